package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lgandecki/slashcmd/internal/authsession"
	"github.com/lgandecki/slashcmd/internal/metrics"
	"github.com/lgandecki/slashcmd/internal/middleware"
)

// methodAny は全メソッドを受け付けるルートを表す。
const methodAny = "*"

// GatewayPipeline はコマンド生成と旧APIプロキシの両方が使うパイプライン。
type GatewayPipeline interface {
	CommandPipeline
	LegacyAdmitter
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// MetricsHandler がnilの場合、/metrics は公開しない。
	MetricsHandler http.Handler

	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	UpgradeURL        string
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを取る。
	// 前段のプロキシがヘッダーを上書きする構成でだけ有効にする。
	TrustProxyHeaders bool

	// 認証
	AuthBroker AuthBroker
	// OAuthProvider がnilの場合、GitHubログインのルートは登録しない。
	OAuthProvider authsession.OAuthProvider
	Sanitizer     UsernameSanitizer
	AuthConfig    AuthHandlerConfig

	// コマンド生成
	Pipeline GatewayPipeline
	Quota    QuotaReader

	// Webhook
	Webhooks WebhookProviders

	// LegacyForwarder がnilの場合、/v1/* は登録しない。
	LegacyForwarder LegacyForwarder
}

// route はルートテーブルの1行。
type route struct {
	method      string
	pattern     string
	description string
	handler     http.HandlerFunc
	middlewares []func(http.Handler) http.Handler
}

// routes はルートテーブルを組み立てる。
func (deps *RouterDeps) routes() []route {
	authHandler := NewAuthHandler(deps.AuthBroker, deps.OAuthProvider, deps.Sanitizer, deps.Metrics, deps.AuthConfig)
	commandHandler := NewCommandHandler(deps.Pipeline, deps.UpgradeURL)
	statusHandler := NewStatusHandler(deps.Quota, deps.UpgradeURL)
	webhookHandler := NewWebhookHandler(deps.Webhooks, deps.Metrics)

	bearer := middleware.NewBearerAuthMiddleware(deps.TokenVerifier, deps.UpgradeURL)
	throttle := deps.RateLimiter.AuthMiddleware()

	table := []route{
		{http.MethodGet, "/ping", "health check", Ping, nil},
		{http.MethodPost, "/auth/start", "start a CLI login session", authHandler.Start, mws(throttle)},
		{http.MethodGet, "/auth/poll", "poll a login session (?session=<id>)", authHandler.Poll, mws(throttle)},
		{http.MethodPost, "/auth/callback", "complete a login session", authHandler.Callback, nil},
	}

	if deps.OAuthProvider != nil {
		table = append(table,
			route{http.MethodGet, "/auth/github/login", "sign in with GitHub (?session=<id>)", authHandler.GitHubLogin, nil},
			route{http.MethodGet, "/auth/github/callback", "GitHub OAuth callback", authHandler.GitHubCallback, nil},
		)
	}

	table = append(table,
		route{http.MethodPost, "/command", "generate and explain a shell command (SSE)", commandHandler.Handle, mws(bearer)},
		route{http.MethodGet, "/status", "current tier and usage", statusHandler.Status, mws(bearer)},
		route{http.MethodPost, "/webhook/{provider}", "subscription webhooks (clerk, stripe)", webhookHandler.Receive, nil},
	)

	if deps.LegacyForwarder != nil {
		legacyHandler := NewLegacyHandler(deps.Pipeline, deps.LegacyForwarder, deps.UpgradeURL)
		table = append(table,
			route{methodAny, "/v1/*", "legacy pass-through to the command model", legacyHandler.Proxy, mws(bearer)},
		)
	}

	if deps.MetricsHandler != nil {
		table = append(table,
			route{http.MethodGet, "/metrics", "Prometheus metrics", deps.MetricsHandler.ServeHTTP, nil},
		)
	}

	return table
}

func mws(m ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	return m
}

// NewRouter はルートテーブルとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[RealIP] → RequestID → Logging → StatusMetrics → Recovery → SecurityHeaders → CORS
//
// RealIPはTrustProxyHeadersが有効な場合のみ適用する。
// 認証とレート制限はルートごとに適用する。
// どのルートにも一致しないパスには利用可能なエンドポイントの一覧を返す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewStatusMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	table := deps.routes()
	for _, rt := range table {
		h := r.With(rt.middlewares...)
		if rt.method == methodAny {
			h.Handle(rt.pattern, rt.handler)
			continue
		}
		h.Method(rt.method, rt.pattern, rt.handler)
	}

	r.NotFound(capabilitiesHandler(table))

	return r
}

// capabilitiesHandler はルートテーブルからプレーンテキストのエンドポイント一覧を返す。
func capabilitiesHandler(table []route) http.HandlerFunc {
	var b strings.Builder
	b.WriteString("slashcmd gateway\n\nEndpoints:\n")
	for _, rt := range table {
		method := rt.method
		if method == methodAny {
			method = "ANY"
		}
		fmt.Fprintf(&b, "  %-5s %-22s %s\n", method, rt.pattern, rt.description)
	}
	body := b.String()

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}
