package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // ゼロ値は期限なし
}

// MemoryKVStore はプロセス内のマップを使ったKVStore。
// 開発用とテスト用。期限切れのエントリは読み出し時に破棄する。
type MemoryKVStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryKVStore はMemoryKVStoreを生成する。
func NewMemoryKVStore() *MemoryKVStore {
	return NewMemoryKVStoreWithClock(time.Now)
}

// NewMemoryKVStoreWithClock は現在時刻の取得関数を差し替えたMemoryKVStoreを生成する。
// TTLの振る舞いをテストするために使う。
func NewMemoryKVStoreWithClock(now func() time.Time) *MemoryKVStore {
	return &MemoryKVStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get はキーの値を取得する。
func (s *MemoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set はキーに値を書き込む。
func (s *MemoryKVStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// CompareAndSwap は現在の値がoldと一致する場合のみ上書きする。
func (s *MemoryKVStore) CompareAndSwap(_ context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok || e.value != old {
		return false, nil
	}
	next := memoryEntry{value: new}
	if ttl > 0 {
		next.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = next
	return true, nil
}

// GetDel はキーの値を取得して削除する。
func (s *MemoryKVStore) GetDel(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return "", false, nil
	}
	delete(s.entries, key)
	return e.value, true, nil
}

// Len は期限切れを含む保持エントリ数を返す。テスト用。
func (s *MemoryKVStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryKVStore) lookupLocked(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// compile-time interface check
var _ KVStore = (*MemoryKVStore)(nil)
