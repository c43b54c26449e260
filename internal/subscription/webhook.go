package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v72/webhook"
	svix "github.com/svix/svix-webhooks/go"
)

// Webhookプロバイダー名
const (
	ProviderClerk  = "clerk"
	ProviderStripe = "stripe"
)

// ErrSignatureInvalid はWebhook署名の検証失敗を表す。
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verifier は受信Webhookの署名を検証する。
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// Provider は1つの送信元からのWebhookを検証して処理する。
type Provider interface {
	Process(ctx context.Context, payload []byte, headers http.Header) (Outcome, error)
}

// SvixVerifier はsvix形式（svix-id / svix-timestamp / svix-signature）の署名を検証する。
type SvixVerifier struct {
	wh *svix.Webhook
}

// NewSvixVerifier は "whsec_" で始まる署名シークレットからSvixVerifierを生成する。
func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid svix secret: %w", err)
	}
	return &SvixVerifier{wh: wh}, nil
}

// Verify は署名とタイムスタンプを検証する。
func (v *SvixVerifier) Verify(payload []byte, headers http.Header) error {
	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// rejectAllVerifier はシークレット未設定のプロバイダー用。すべて拒否する。
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify([]byte, http.Header) error {
	return fmt.Errorf("%w: no signing secret configured", ErrSignatureInvalid)
}

// ClerkProvider はIDプロバイダーのuserイベントを処理する。
type ClerkProvider struct {
	verifier Verifier
	sync     *Sync
}

// NewClerkProvider はClerkProviderを生成する。verifierがnilの場合はすべて拒否する。
func NewClerkProvider(verifier Verifier, sync *Sync) *ClerkProvider {
	if verifier == nil {
		verifier = rejectAllVerifier{}
	}
	return &ClerkProvider{verifier: verifier, sync: sync}
}

// clerkEnvelope はClerkのWebhook本文。
type clerkEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Process は署名を検証し、イベントをSyncに渡す。
func (p *ClerkProvider) Process(ctx context.Context, payload []byte, headers http.Header) (Outcome, error) {
	if err := p.verifier.Verify(payload, headers); err != nil {
		return "", err
	}

	var env clerkEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p.sync.ApplyEvent(ctx, env.Type, env.Data)
}

// StripeProvider はStripeのサブスクリプションイベントを処理する。
type StripeProvider struct {
	secret string
	sync   *Sync
}

// NewStripeProvider はStripeProviderを生成する。secretが空の場合はすべて拒否する。
func NewStripeProvider(secret string, sync *Sync) *StripeProvider {
	return &StripeProvider{secret: secret, sync: sync}
}

// Process はStripe-Signatureを検証し、イベントをSyncに渡す。
func (p *StripeProvider) Process(ctx context.Context, payload []byte, headers http.Header) (Outcome, error) {
	if p.secret == "" {
		return "", rejectAllVerifier{}.Verify(payload, headers)
	}

	event, err := webhook.ConstructEvent(payload, headers.Get("Stripe-Signature"), p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return p.sync.ApplyStripeEvent(ctx, event)
}

// Registry はプロバイダー名からProviderを引く。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はRegistryを生成する。
func NewRegistry(providers map[string]Provider) *Registry {
	return &Registry{providers: providers}
}

// Lookup はプロバイダーを返す。未登録の場合はokがfalse。
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// compile-time interface check
var (
	_ Verifier = (*SvixVerifier)(nil)
	_ Provider = (*ClerkProvider)(nil)
	_ Provider = (*StripeProvider)(nil)
)
