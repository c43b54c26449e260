package repository

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/lgandecki/slashcmd/internal/model"
)

func TestKeyFormats(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{UsageKey("github:42"), "u:github:42"},
		{TierKey("github:42"), "tier:github:42"},
		{SessionKey("abc"), "session:abc"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestUsageRepo_MissingRecordIsZero(t *testing.T) {
	repo := NewUsageRepo(NewMemoryKVStore())

	got, err := repo.Get(context.Background(), "github:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 0 {
		t.Errorf("usage = %d, want 0", got)
	}
}

func TestUsageRepo_SetAndGet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	repo := NewUsageRepo(kv)

	if err := repo.Set(ctx, "github:1", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := repo.Get(ctx, "github:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 7 {
		t.Errorf("usage = %d, want 7", got)
	}

	raw, _, _ := kv.Get(ctx, "u:github:1")
	if raw != `{"total":7}` {
		t.Errorf("stored value = %q, want %q", raw, `{"total":7}`)
	}
}

func TestUsageRepo_AcceptsBareInteger(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	_ = kv.Set(ctx, "u:github:1", "12", 0)

	got, err := NewUsageRepo(kv).Get(ctx, "github:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 12 {
		t.Errorf("usage = %d, want 12", got)
	}
}

func TestUsageRepo_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	_ = kv.Set(ctx, "u:github:1", "not-json", 0)

	if _, err := NewUsageRepo(kv).Get(ctx, "github:1"); err == nil {
		t.Error("corrupt usage record should return an error")
	}
}

func TestTierRepo_SetAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewTierRepo(NewMemoryKVStore())

	if _, ok, _ := repo.Get(ctx, "github:1"); ok {
		t.Fatal("tier should be absent initially")
	}
	if err := repo.Set(ctx, "github:1", model.TierPro); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := repo.Get(ctx, "github:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != model.TierPro {
		t.Errorf("tier = (%q, %v), want (%q, true)", got, ok, model.TierPro)
	}
}

func TestAuthSessionRepo_SaveFindTake(t *testing.T) {
	ctx := context.Background()
	repo := NewAuthSessionRepo(NewMemoryKVStore())

	s := &model.AuthSession{Status: model.AuthSessionComplete, Token: "t", User: "alice", ExternalID: "42"}
	if err := repo.Save(ctx, "sid", s, time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := repo.FindByID(ctx, "sid")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found == nil || *found != *s {
		t.Fatalf("FindByID = %+v, want %+v", found, s)
	}

	taken, err := repo.TakeByID(ctx, "sid")
	if err != nil {
		t.Fatalf("TakeByID: %v", err)
	}
	if taken == nil || taken.Token != "t" {
		t.Fatalf("TakeByID = %+v", taken)
	}

	again, err := repo.TakeByID(ctx, "sid")
	if err != nil {
		t.Fatalf("TakeByID: %v", err)
	}
	if again != nil {
		t.Error("second TakeByID should return nil")
	}
}

func TestAuthSessionRepo_FindByID_Missing(t *testing.T) {
	got, err := NewAuthSessionRepo(NewMemoryKVStore()).FindByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("FindByID = %+v, want nil", got)
	}
}

func TestAuthSessionRepo_CompletePending(t *testing.T) {
	ctx := context.Background()
	repo := NewAuthSessionRepo(NewMemoryKVStore())

	done := &model.AuthSession{Status: model.AuthSessionComplete, Token: "t1", User: "alice", ExternalID: "42"}
	if ok, err := repo.CompletePending(ctx, "missing", done, time.Minute); err != nil || ok {
		t.Fatalf("missing session: ok=%v err=%v, want false", ok, err)
	}

	_ = repo.Save(ctx, "sid", &model.AuthSession{Status: model.AuthSessionPending}, time.Minute)
	ok, err := repo.CompletePending(ctx, "sid", done, time.Minute)
	if err != nil || !ok {
		t.Fatalf("pending session: ok=%v err=%v, want true", ok, err)
	}

	// 完了済みのセッションは上書きしない
	other := &model.AuthSession{Status: model.AuthSessionComplete, Token: "t2", User: "mallory", ExternalID: "666"}
	if ok, _ := repo.CompletePending(ctx, "sid", other, time.Minute); ok {
		t.Error("complete session should not be completed again")
	}
	found, _ := repo.FindByID(ctx, "sid")
	if found == nil || found.Token != "t1" {
		t.Errorf("session = %+v, want the first completion", found)
	}

	// 受け取り後に完了させても再作成しない
	_, _ = repo.TakeByID(ctx, "sid")
	if ok, _ := repo.CompletePending(ctx, "sid", other, time.Minute); ok {
		t.Error("taken session should not be re-created")
	}
	if found, _ := repo.FindByID(ctx, "sid"); found != nil {
		t.Errorf("session = %+v, want nil", found)
	}
}

// TestAuthSessionRepo_CompletePending_Concurrent は同一セッションへの並行な完了で
// 成功するのが1件だけであることをRedisバックエンドで検証する。
func TestAuthSessionRepo_CompletePending_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	repo := NewAuthSessionRepo(store)
	_ = repo.Save(ctx, "sid", &model.AuthSession{Status: model.AuthSessionPending}, time.Minute)

	const n = 10
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			s := &model.AuthSession{Status: model.AuthSessionComplete, Token: "t", User: "u", ExternalID: strconv.Itoa(i)}
			ok, err := repo.CompletePending(ctx, "sid", s, time.Minute)
			if err != nil {
				t.Errorf("CompletePending: %v", err)
			}
			results <- ok
		}(i)
	}

	wins := 0
	for i := 0; i < n; i++ {
		if <-results {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}
