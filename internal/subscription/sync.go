// Package subscription は課金・IDプロバイダーからのWebhookイベントを
// 階層レコードに反映する。
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v72"

	"github.com/lgandecki/slashcmd/internal/model"
)

// イベント種別
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"

	EventStripeSubscriptionCreated = "customer.subscription.created"
	EventStripeSubscriptionUpdated = "customer.subscription.updated"
	EventStripeSubscriptionDeleted = "customer.subscription.deleted"
)

// LinkedProvider はサブジェクトIDの導出に使う外部アカウントのプロバイダー種別。
const LinkedProvider = "oauth_github"

// StripeSubjectMetadataKey はStripeのサブスクリプションメタデータでサブジェクトIDを持つキー。
const StripeSubjectMetadataKey = "subject_id"

// ErrMalformedPayload は認識したイベントのペイロードを解釈できないことを表す。
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Outcome はイベント処理の結果。
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// TierWriter は階層レコードの書き込み。
type TierWriter interface {
	Set(ctx context.Context, subjectID string, tier model.Tier) error
}

// Sync は受信イベントから階層レコードを更新する。
// 署名検証は呼び出し側で済ませておくこと。
type Sync struct {
	tiers TierWriter
}

// NewSync はSyncを生成する。
func NewSync(tiers TierWriter) *Sync {
	return &Sync{tiers: tiers}
}

// userEventData はuser.created / user.updatedのdata部。
type userEventData struct {
	ExternalAccounts []struct {
		Provider       string `json:"provider"`
		ProviderUserID string `json:"provider_user_id"`
	} `json:"external_accounts"`
	PublicMetadata struct {
		Tier string `json:"tier"`
	} `json:"public_metadata"`
}

// ApplyEvent はIDプロバイダーのイベントを処理する。
// 未知のイベント種別や外部アカウントの紐付けがないペイロードは何もせずに成功扱いとする。
func (s *Sync) ApplyEvent(ctx context.Context, eventType string, payload json.RawMessage) (Outcome, error) {
	if eventType != EventUserCreated && eventType != EventUserUpdated {
		return OutcomeIgnored, nil
	}

	var data userEventData
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var externalID string
	for _, acct := range data.ExternalAccounts {
		if acct.Provider == LinkedProvider && acct.ProviderUserID != "" {
			externalID = acct.ProviderUserID
			break
		}
	}
	if externalID == "" {
		slog.Info("webhook event has no linked account, ignoring",
			slog.String("event_type", eventType),
		)
		return OutcomeIgnored, nil
	}

	subjectID := model.SubjectID(model.ProviderGitHub, externalID)
	tier := model.TierOrDefault(data.PublicMetadata.Tier)
	if err := s.tiers.Set(ctx, subjectID, tier); err != nil {
		return "", fmt.Errorf("階層の更新に失敗しました: %w", err)
	}

	slog.Info("tier updated from identity event",
		slog.String("event_type", eventType),
		slog.String("subject", subjectID),
		slog.String("tier", string(tier)),
	)
	return OutcomeApplied, nil
}

// ApplyStripeEvent はStripeのサブスクリプションイベントを処理する。
// active / trialing はpro、それ以外の状態と削除はfreeにする。
func (s *Sync) ApplyStripeEvent(ctx context.Context, event stripe.Event) (Outcome, error) {
	switch event.Type {
	case EventStripeSubscriptionCreated, EventStripeSubscriptionUpdated, EventStripeSubscriptionDeleted:
	default:
		return OutcomeIgnored, nil
	}
	if event.Data == nil {
		return "", fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	subjectID := sub.Metadata[StripeSubjectMetadataKey]
	if subjectID == "" {
		slog.Info("stripe subscription has no subject metadata, ignoring",
			slog.String("event_type", event.Type),
			slog.String("subscription", sub.ID),
		)
		return OutcomeIgnored, nil
	}

	tier := model.TierFree
	if event.Type != EventStripeSubscriptionDeleted &&
		(sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing) {
		tier = model.TierPro
	}

	if err := s.tiers.Set(ctx, subjectID, tier); err != nil {
		return "", fmt.Errorf("階層の更新に失敗しました: %w", err)
	}

	slog.Info("tier updated from billing event",
		slog.String("event_type", event.Type),
		slog.String("subject", subjectID),
		slog.String("tier", string(tier)),
	)
	return OutcomeApplied, nil
}

// SeedTiers は静的な階層割り当てを書き込む。起動時に使う。
func (s *Sync) SeedTiers(ctx context.Context, tiers map[string]model.Tier) error {
	for subjectID, tier := range tiers {
		if err := s.tiers.Set(ctx, subjectID, tier); err != nil {
			return fmt.Errorf("階層の初期投入に失敗しました (%s): %w", subjectID, err)
		}
	}
	slog.Info("tier seed applied", slog.Int("count", len(tiers)))
	return nil
}
