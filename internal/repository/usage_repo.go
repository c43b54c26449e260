package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// usageRecord はu:<subjectId>に保存する値。
type usageRecord struct {
	Total int `json:"total"`
}

// UsageRepo はサブジェクトごとの生涯利用回数を保存する。
type UsageRepo struct {
	kv KVStore
}

// NewUsageRepo はUsageRepoを生成する。
func NewUsageRepo(kv KVStore) *UsageRepo {
	return &UsageRepo{kv: kv}
}

// Get は利用回数を取得する。レコードがない場合は0を返す。
func (r *UsageRepo) Get(ctx context.Context, subjectID string) (int, error) {
	raw, ok, err := r.kv.Get(ctx, UsageKey(subjectID))
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return decodeUsage(raw)
}

// Set は利用回数を上書きする。利用回数は期限なしで保持する。
func (r *UsageRepo) Set(ctx context.Context, subjectID string, total int) error {
	b, err := json.Marshal(usageRecord{Total: total})
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}
	if err := r.kv.Set(ctx, UsageKey(subjectID), string(b), 0); err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	return nil
}

// decodeUsage はJSON形式と素の整数の両方を受け付ける。
func decodeUsage(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	var rec usageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return 0, fmt.Errorf("failed to decode usage record: %w", err)
	}
	return rec.Total, nil
}
