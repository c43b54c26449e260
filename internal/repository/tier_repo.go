package repository

import (
	"context"
	"fmt"

	"github.com/lgandecki/slashcmd/internal/model"
)

// TierRepo はサブジェクトごとの階層台帳を保存する。
type TierRepo struct {
	kv KVStore
}

// NewTierRepo はTierRepoを生成する。
func NewTierRepo(kv KVStore) *TierRepo {
	return &TierRepo{kv: kv}
}

// Get は階層を取得する。レコードがない場合はokがfalseになる。
func (r *TierRepo) Get(ctx context.Context, subjectID string) (model.Tier, bool, error) {
	raw, ok, err := r.kv.Get(ctx, TierKey(subjectID))
	if err != nil {
		return "", false, fmt.Errorf("failed to read tier: %w", err)
	}
	if !ok || raw == "" {
		return "", false, nil
	}
	return model.Tier(raw), true, nil
}

// Set は階層を上書きする。
func (r *TierRepo) Set(ctx context.Context, subjectID string, tier model.Tier) error {
	if err := r.kv.Set(ctx, TierKey(subjectID), string(tier), 0); err != nil {
		return fmt.Errorf("failed to write tier: %w", err)
	}
	return nil
}
