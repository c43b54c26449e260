package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lgandecki/slashcmd/internal/model"
)

// AuthSessionRepo は認証セッションをJSONで保存する。
type AuthSessionRepo struct {
	kv KVStore
}

// NewAuthSessionRepo はAuthSessionRepoを生成する。
func NewAuthSessionRepo(kv KVStore) *AuthSessionRepo {
	return &AuthSessionRepo{kv: kv}
}

// Save はセッションを指定のTTLで上書き保存する。
func (r *AuthSessionRepo) Save(ctx context.Context, sessionID string, session *model.AuthSession, ttl time.Duration) error {
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}
	if err := r.kv.Set(ctx, SessionKey(sessionID), string(b), ttl); err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// FindByID はセッションを取得する。存在しない、または期限切れの場合はnilを返す。
func (r *AuthSessionRepo) FindByID(ctx context.Context, sessionID string) (*model.AuthSession, error) {
	raw, ok, err := r.kv.Get(ctx, SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to find auth session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return decodeAuthSession(raw)
}

// TakeByID はセッションを取得すると同時に削除する。存在しない場合はnilを返す。
func (r *AuthSessionRepo) TakeByID(ctx context.Context, sessionID string) (*model.AuthSession, error) {
	raw, ok, err := r.kv.GetDel(ctx, SessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to take auth session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return decodeAuthSession(raw)
}

// CompletePending はpendingのセッションを完了状態に置き換える。
// 読み出した値と一致する場合のみ書き込むため、並行に呼ばれても成功するのは1回だけ。
// セッションが存在しない、またはpendingでない場合はfalseを返す。
func (r *AuthSessionRepo) CompletePending(ctx context.Context, sessionID string, complete *model.AuthSession, ttl time.Duration) (bool, error) {
	key := SessionKey(sessionID)

	raw, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to find auth session: %w", err)
	}
	if !ok {
		return false, nil
	}
	current, err := decodeAuthSession(raw)
	if err != nil {
		return false, err
	}
	if !current.IsPending() {
		return false, nil
	}

	b, err := json.Marshal(complete)
	if err != nil {
		return false, fmt.Errorf("failed to encode auth session: %w", err)
	}
	swapped, err := r.kv.CompareAndSwap(ctx, key, raw, string(b), ttl)
	if err != nil {
		return false, fmt.Errorf("failed to complete auth session: %w", err)
	}
	return swapped, nil
}

func decodeAuthSession(raw string) (*model.AuthSession, error) {
	var s model.AuthSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return &s, nil
}
