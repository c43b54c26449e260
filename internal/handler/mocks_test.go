package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lgandecki/slashcmd/internal/authsession"
	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/pipeline"
	"github.com/lgandecki/slashcmd/internal/subscription"
)

// --- モック定義 ---

type mockAuthBroker struct {
	startFn    func(ctx context.Context) (*authsession.StartResult, error)
	pollFn     func(ctx context.Context, sessionID string) (*authsession.PollResult, error)
	completeFn func(ctx context.Context, sessionID, externalID, username string) error
}

func (m *mockAuthBroker) Start(ctx context.Context) (*authsession.StartResult, error) {
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	return &authsession.StartResult{SessionID: "sess-1", AuthURL: "https://slashcmd.example.com/auth/github/login?session=sess-1"}, nil
}

func (m *mockAuthBroker) Poll(ctx context.Context, sessionID string) (*authsession.PollResult, error) {
	if m.pollFn != nil {
		return m.pollFn(ctx, sessionID)
	}
	return &authsession.PollResult{Pending: true}, nil
}

func (m *mockAuthBroker) Complete(ctx context.Context, sessionID, externalID, username string) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, sessionID, externalID, username)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*authsession.OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*authsession.OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not configured")
}

// trimSanitizer は前後の空白だけを除去するテスト用サニタイザー。
type trimSanitizer struct{}

func (trimSanitizer) Sanitize(raw string) string { return strings.TrimSpace(raw) }

// mockRecorder はmetrics.MetricsCollectorのテスト用モック。
type mockRecorder struct {
	mu           sync.Mutex
	authEvents   []string
	webhooks     []string
	commands     []string
	httpStatuses []int
	rejections   int
}

func (m *mockRecorder) RecordCommand(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, outcome)
}

func (m *mockRecorder) RecordQuotaRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections++
}

func (m *mockRecorder) ObserveUpstream(string, time.Duration, bool) {}

func (m *mockRecorder) RecordAuthSession(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authEvents = append(m.authEvents, event)
}

func (m *mockRecorder) RecordWebhook(provider, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, provider+"/"+result)
}

func (m *mockRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpStatuses = append(m.httpStatuses, statusCode)
}

func (m *mockRecorder) authEventList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authEvents...)
}

func (m *mockRecorder) webhookList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.webhooks...)
}

type mockPipeline struct {
	admitFn     func(ctx context.Context, identity model.Identity) (*pipeline.Admission, error)
	runFn       func(ctx context.Context, admission *pipeline.Admission, req pipeline.Request) (<-chan pipeline.Event, error)
	incrementFn func(ctx context.Context, admission *pipeline.Admission)
}

func (m *mockPipeline) Admit(ctx context.Context, identity model.Identity) (*pipeline.Admission, error) {
	if m.admitFn != nil {
		return m.admitFn(ctx, identity)
	}
	return allowedAdmission(identity, 0), nil
}

func (m *mockPipeline) Run(ctx context.Context, admission *pipeline.Admission, req pipeline.Request) (<-chan pipeline.Event, error) {
	if m.runFn != nil {
		return m.runFn(ctx, admission, req)
	}
	ch := make(chan pipeline.Event)
	close(ch)
	return ch, nil
}

func (m *mockPipeline) IncrementInBackground(ctx context.Context, admission *pipeline.Admission) {
	if m.incrementFn != nil {
		m.incrementFn(ctx, admission)
	}
}

type mockQuotaReader struct {
	resolveTierFn func(ctx context.Context, subjectID string, tokenTier model.Tier) model.Tier
	checkFn       func(ctx context.Context, subjectID string, tier model.Tier) (model.QuotaStatus, error)
}

func (m *mockQuotaReader) ResolveTier(ctx context.Context, subjectID string, tokenTier model.Tier) model.Tier {
	if m.resolveTierFn != nil {
		return m.resolveTierFn(ctx, subjectID, tokenTier)
	}
	return tokenTier
}

func (m *mockQuotaReader) Check(ctx context.Context, subjectID string, tier model.Tier) (model.QuotaStatus, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, subjectID, tier)
	}
	return model.QuotaStatus{Allowed: true, Limit: 100}, nil
}

type mockWebhookProvider struct {
	processFn func(ctx context.Context, payload []byte, headers http.Header) (subscription.Outcome, error)
}

func (m *mockWebhookProvider) Process(ctx context.Context, payload []byte, headers http.Header) (subscription.Outcome, error) {
	if m.processFn != nil {
		return m.processFn(ctx, payload, headers)
	}
	return subscription.OutcomeIgnored, nil
}

type mockTokenVerifier struct {
	verifyFn func(token string) (*model.Identity, error)
}

func (m *mockTokenVerifier) Verify(token string) (*model.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, errors.New("invalid token")
}

// staticTokens は "token-<subject>" 形式のトークンを受け付けるTokenVerifier。
func staticTokens(identities map[string]model.Identity) *mockTokenVerifier {
	return &mockTokenVerifier{
		verifyFn: func(token string) (*model.Identity, error) {
			id, ok := identities[token]
			if !ok {
				return nil, errors.New("unknown token")
			}
			return &id, nil
		},
	}
}

type mockForwarder struct {
	forwardFn func(w http.ResponseWriter, r *http.Request) int
}

func (m *mockForwarder) Forward(w http.ResponseWriter, r *http.Request) int {
	if m.forwardFn != nil {
		return m.forwardFn(w, r)
	}
	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}

// --- ヘルパー ---

func allowedAdmission(identity model.Identity, usage int) *pipeline.Admission {
	return &pipeline.Admission{
		Identity: identity,
		Tier:     model.TierOrDefault(string(identity.Tier)),
		Status:   model.QuotaStatus{Allowed: true, Usage: usage, Limit: 100},
	}
}

func eventStream(events ...pipeline.Event) <-chan pipeline.Event {
	ch := make(chan pipeline.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

var testIdentity = model.Identity{SubjectID: "github:42", Tier: model.TierFree, Username: "alice"}
