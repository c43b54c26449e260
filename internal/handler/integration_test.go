package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lgandecki/slashcmd/internal/authsession"
	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/pipeline"
	"github.com/lgandecki/slashcmd/internal/quota"
	"github.com/lgandecki/slashcmd/internal/repository"
	"github.com/lgandecki/slashcmd/internal/security"
	"github.com/lgandecki/slashcmd/internal/subscription"
	"github.com/lgandecki/slashcmd/internal/token"
	"github.com/lgandecki/slashcmd/internal/upstream"
	"github.com/lgandecki/slashcmd/internal/worker/background"
)

// --- 統合テスト用のスタブ ---

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, query string) (*upstream.CommandResult, error) {
	return &upstream.CommandResult{Command: "ls -la", Safe: true}, nil
}

type stubExplainer struct{}

func (stubExplainer) Explain(ctx context.Context, command string, style upstream.Style) (string, error) {
	return "lists files", nil
}

// acceptAllVerifier は署名検証を通すテスト用Verifier。
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify([]byte, http.Header) error { return nil }

// integrationEnv はメモリKVで構成した実コンポーネントのルーター。
type integrationEnv struct {
	server *httptest.Server
	group  *background.Group
	usage  *repository.UsageRepo
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	kv := repository.NewMemoryKVStore()
	usage := repository.NewUsageRepo(kv)
	tiers := repository.NewTierRepo(kv)
	sessions := repository.NewAuthSessionRepo(kv)

	tokens := token.NewService("integration-secret")
	tracker := quota.NewTracker(usage, tiers)
	broker := authsession.NewBroker(sessions, tokens, tiers, authsession.Config{
		AuthPageURL: "https://gw.example.com/auth/github/login",
	})
	sync := subscription.NewSync(tiers)
	group := background.NewGroup(logger)
	rec := &mockRecorder{}
	p := pipeline.New(stubGenerator{}, stubExplainer{}, tracker, group, rec, logger)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		Metrics:           rec,
		TokenVerifier:     tokens,
		RateLimiter:       rl,
		CORSAllowedOrigin: "https://gw.example.com",
		UpgradeURL:        "https://gw.example.com/upgrade",
		AuthBroker:        broker,
		Sanitizer:         security.NewUsernameSanitizer(),
		AuthConfig:        AuthHandlerConfig{CallbackSecret: testCallbackSecret},
		Pipeline:          p,
		Quota:             tracker,
		Webhooks: subscription.NewRegistry(map[string]subscription.Provider{
			subscription.ProviderClerk: subscription.NewClerkProvider(acceptAllVerifier{}, sync),
		}),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &integrationEnv{server: server, group: group, usage: usage}
}

func (e *integrationEnv) do(t *testing.T, method, path, bearer, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// callback は共有シークレット付きでPOST /auth/callbackを送る。
func (e *integrationEnv) callback(t *testing.T, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/auth/callback", strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(callbackSecretHeader, testCallbackSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /auth/callback failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// readEvents はSSEレスポンスをイベント名とdata行の組に分解する。
func readEvents(t *testing.T, body io.Reader) [][2]string {
	t.Helper()
	var events [][2]string
	var name string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, [2]string{name, strings.TrimPrefix(line, "data: ")})
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	return events
}

// login はstart → callback → pollでトークンを取得する。
func (e *integrationEnv) login(t *testing.T, githubID, username string) string {
	t.Helper()

	var start startResponse
	decodeInto(t, e.do(t, http.MethodPost, "/auth/start", "", ""), &start)

	var pending map[string]any
	decodeInto(t, e.do(t, http.MethodGet, "/auth/poll?session="+start.SessionID, "", ""), &pending)
	if pending["pending"] != true {
		t.Fatalf("poll before completion = %v, want pending", pending)
	}

	resp := e.callback(t,
		`{"session_id":"`+start.SessionID+`","github_id":"`+githubID+`","username":"`+username+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}

	var done pollCompleteResponse
	decodeInto(t, e.do(t, http.MethodGet, "/auth/poll?session="+start.SessionID, "", ""), &done)
	if done.Token == "" || done.GitHubID != githubID || done.User != username {
		t.Fatalf("poll after completion = %+v", done)
	}

	// 受け取り済みのセッションは再度取得できない
	if resp := e.do(t, http.MethodGet, "/auth/poll?session="+start.SessionID, "", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second poll status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	return done.Token
}

func (e *integrationEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.group.Wait(ctx); err != nil {
		t.Fatalf("background tasks did not finish: %v", err)
	}
}

func TestIntegration_LoginCommandStatus(t *testing.T) {
	env := newIntegrationEnv(t)
	tok := env.login(t, "42", "alice")

	// コマンド生成
	resp := env.do(t, http.MethodPost, "/command", tok, `{"query":"list files","style":"typescript"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /command status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Usage"); got != "0" {
		t.Errorf("X-Usage = %q, want %q", got, "0")
	}
	events := readEvents(t, resp.Body)
	want := [][2]string{
		{"command", `{"command":"ls -la","safe":true}`},
		{"explanation", `{"text":"lists files"}`},
		{"usage", `{"usage":1,"limit":100,"tier":"free","warning":false}`},
		{"done", `{}`},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, events[i], want[i])
		}
	}

	env.drain(t)
	total, err := env.usage.Get(context.Background(), "github:42")
	if err != nil {
		t.Fatalf("usage Get() error = %v", err)
	}
	if total != 1 {
		t.Errorf("usage total = %d, want 1", total)
	}
}

func TestIntegration_StatusAndWebhookUpgrade(t *testing.T) {
	env := newIntegrationEnv(t)
	tok := env.login(t, "99", "bob")

	var before statusResponse
	decodeInto(t, env.do(t, http.MethodGet, "/status", tok, ""), &before)
	want := statusResponse{User: "bob", Tier: "free", Usage: 0, Limit: 100, Remaining: 100}
	if before != want {
		t.Errorf("status before = %+v, want %+v", before, want)
	}

	payload := `{"type":"user.updated","data":{"external_accounts":[{"provider":"oauth_github","provider_user_id":"99"}],"public_metadata":{"tier":"pro"}}}`
	resp := env.do(t, http.MethodPost, "/webhook/clerk", "", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d", resp.StatusCode)
	}

	// トークンはfreeのままでも階層レコードが優先される
	var after statusResponse
	decodeInto(t, env.do(t, http.MethodGet, "/status", tok, ""), &after)
	if after.Tier != "pro" || after.Limit != model.UnlimitedQuota || after.Remaining != model.UnlimitedQuota {
		t.Errorf("status after upgrade = %+v", after)
	}
}

func TestIntegration_CompletedSessionCannotBeReplayed(t *testing.T) {
	env := newIntegrationEnv(t)

	var start startResponse
	decodeInto(t, env.do(t, http.MethodPost, "/auth/start", "", ""), &start)

	body := `{"session_id":"` + start.SessionID + `","github_id":"7","username":"carol"}`
	if resp := env.callback(t, body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first callback status = %d", resp.StatusCode)
	}
	resp := env.callback(t, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("replayed callback status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

// シークレットのない完了要求ではセッションがpendingのまま残ることを検証する。
func TestIntegration_CallbackWithoutSecretLeavesSessionPending(t *testing.T) {
	env := newIntegrationEnv(t)

	var start startResponse
	decodeInto(t, env.do(t, http.MethodPost, "/auth/start", "", ""), &start)

	body := `{"session_id":"` + start.SessionID + `","github_id":"666","username":"mallory"}`
	if resp := env.do(t, http.MethodPost, "/auth/callback", "", body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("callback status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var pending map[string]any
	decodeInto(t, env.do(t, http.MethodGet, "/auth/poll?session="+start.SessionID, "", ""), &pending)
	if pending["pending"] != true {
		t.Errorf("poll = %v, want pending", pending)
	}
}

func TestIntegration_UnknownSessionIsExpired(t *testing.T) {
	env := newIntegrationEnv(t)

	resp := env.do(t, http.MethodGet, "/auth/poll?session=does-not-exist", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	var body middleware.ErrorResponseBody
	decodeInto(t, resp, &body)
	if body.Code != model.ErrCodeSessionExpired || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestIntegration_CommandAfterShutdownIsRejected(t *testing.T) {
	env := newIntegrationEnv(t)
	tok := env.login(t, "5", "dave")

	env.drain(t)

	resp := env.do(t, http.MethodPost, "/command", tok, `{"query":"ls"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	total, err := env.usage.Get(context.Background(), "github:5")
	if err != nil {
		t.Fatalf("usage Get() error = %v", err)
	}
	if total != 0 {
		t.Errorf("usage total = %d, want 0", total)
	}
}
