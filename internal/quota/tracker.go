// Package quota は無料階層の生涯利用回数を管理する。
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lgandecki/slashcmd/internal/model"
)

const (
	// FreeTierLimit は無料階層の生涯利用上限。
	FreeTierLimit = 100
	// WarningThreshold はこの回数以上で上限前の警告を出す。
	WarningThreshold = 90
)

// UsageStore は利用回数レコードの読み書き。
type UsageStore interface {
	Get(ctx context.Context, subjectID string) (int, error)
	Set(ctx context.Context, subjectID string, total int) error
}

// TierStore は階層レコードの読み出し。
type TierStore interface {
	Get(ctx context.Context, subjectID string) (model.Tier, bool, error)
}

// Tracker はクォータの確認と利用回数の加算を行う。
type Tracker struct {
	usage UsageStore
	tiers TierStore
}

// NewTracker はTrackerを生成する。
func NewTracker(usage UsageStore, tiers TierStore) *Tracker {
	return &Tracker{usage: usage, tiers: tiers}
}

// Check はサブジェクトが次のリクエストを実行できるかを返す。
// pro階層はストレージに触れずに常に許可する。
func (t *Tracker) Check(ctx context.Context, subjectID string, tier model.Tier) (model.QuotaStatus, error) {
	if tier.IsUnlimited() {
		return model.QuotaStatus{Allowed: true, Limit: model.UnlimitedQuota}, nil
	}

	usage, err := t.usage.Get(ctx, subjectID)
	if err != nil {
		return model.QuotaStatus{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return statusFor(usage), nil
}

// Increment は利用回数を1加算する。pro階層では何もしない。
// 読み出しと書き込みの間はアトミックではないため、同一サブジェクトの
// 並行リクエストでは加算が失われることがある。
func (t *Tracker) Increment(ctx context.Context, subjectID string, tier model.Tier) error {
	if tier.IsUnlimited() {
		return nil
	}

	usage, err := t.usage.Get(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	if err := t.usage.Set(ctx, subjectID, usage+1); err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	return nil
}

// ResolveTier はリクエスト時点の実効階層を返す。
// 階層レコードがあればそれを、なければトークンの階層を使う。
// 階層レコードの読み出しに失敗した場合もトークンの階層にフォールバックする。
func (t *Tracker) ResolveTier(ctx context.Context, subjectID string, tokenTier model.Tier) model.Tier {
	tier, ok, err := t.tiers.Get(ctx, subjectID)
	if err != nil {
		slog.Warn("failed to read tier record, using token tier",
			slog.String("subject", subjectID),
			slog.String("error", err.Error()),
		)
		return tokenTier
	}
	if !ok {
		return tokenTier
	}
	return tier
}

// AfterIncrement は1回分の利用を加算した後の状態を返す。
// ストリームのusageイベントに使う。
func AfterIncrement(status model.QuotaStatus) model.QuotaStatus {
	if status.Limit == model.UnlimitedQuota {
		return status
	}
	return statusFor(status.Usage + 1)
}

func statusFor(usage int) model.QuotaStatus {
	return model.QuotaStatus{
		Allowed: usage < FreeTierLimit,
		Usage:   usage,
		Limit:   FreeTierLimit,
		Warning: usage >= WarningThreshold && usage < FreeTierLimit,
	}
}
