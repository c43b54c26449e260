package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgandecki/slashcmd/internal/authsession"
	"github.com/lgandecki/slashcmd/internal/config"
	"github.com/lgandecki/slashcmd/internal/database"
	"github.com/lgandecki/slashcmd/internal/handler"
	"github.com/lgandecki/slashcmd/internal/logger"
	"github.com/lgandecki/slashcmd/internal/metrics"
	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/pipeline"
	"github.com/lgandecki/slashcmd/internal/quota"
	"github.com/lgandecki/slashcmd/internal/repository"
	"github.com/lgandecki/slashcmd/internal/security"
	"github.com/lgandecki/slashcmd/internal/subscription"
	"github.com/lgandecki/slashcmd/internal/token"
	"github.com/lgandecki/slashcmd/internal/upstream"
	"github.com/lgandecki/slashcmd/internal/worker/background"
	"github.com/lgandecki/slashcmd/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	opts, err := ParseOptions(args)
	if err != nil {
		return err
	}
	if opts.Help {
		if w == nil {
			w = os.Stdout
		}
		_, err := io.WriteString(w, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if opts.Command == CommandHealthcheck {
		port := opts.Port
		if port == "" {
			port = os.Getenv("SERVER_PORT")
		}
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(healthcheckURL(port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if opts.Port != "" {
		cfg.ServerPort = opts.Port
	}

	slog.Info("starting application",
		slog.String("command", string(opts.Command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("kv_backend", cfg.KVBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.Command {
	case CommandSweep:
		return runSweep(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はゲートウェイのHTTPサーバーを起動する。
// KVストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. KVストア
	kv, closeKV, err := openKVStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	// 2. リポジトリの初期化
	usageRepo := repository.NewUsageRepo(kv)
	tierRepo := repository.NewTierRepo(kv)
	sessionRepo := repository.NewAuthSessionRepo(kv)

	// 3. サブスクリプション同期と階層の初期投入
	sync := subscription.NewSync(tierRepo)
	if cfg.TierSeedFile != "" {
		seed, err := config.LoadTierSeed(cfg.TierSeedFile)
		if err != nil {
			return fmt.Errorf("failed to load tier seed: %w", err)
		}
		if err := sync.SeedTiers(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed tiers: %w", err)
		}
		slog.Info("tier seed applied", slog.Int("count", len(seed)))
	}

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. ドメインサービスの初期化
	tokens := token.NewService(cfg.JWTSecret)
	tracker := quota.NewTracker(usageRepo, tierRepo)
	broker := authsession.NewBroker(sessionRepo, tokens, tierRepo, authsession.Config{
		AuthPageURL: cfg.AuthPageURL,
	})

	var oauthProvider authsession.OAuthProvider
	if cfg.GitHubOAuthEnabled() {
		oauthProvider = authsession.NewGitHubOAuthProvider(authsession.GitHubOAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		})
	} else {
		slog.Info("GitHub OAuth is not configured; /auth/github/* is disabled")
	}

	webhooks, err := buildWebhookProviders(cfg, sync)
	if err != nil {
		return err
	}

	// 6. 上流クライアント
	// 上流の応答時間は可変のため、クライアントにはタイムアウトを設定しない
	commandClient := upstream.NewCommandClient(&http.Client{}, upstream.CommandClientConfig{
		BaseURL: cfg.CommandUpstreamURL,
		APIKey:  cfg.GroqAPIKey,
		Model:   cfg.CommandModel,
	}, collector)
	explainClient := upstream.NewExplainClient(&http.Client{}, upstream.ExplainClientConfig{
		BaseURL: cfg.ExplainUpstreamURL,
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.ExplainModel,
	}, collector)
	legacyProxy, err := upstream.NewLegacyProxy(http.DefaultTransport, upstream.LegacyProxyConfig{
		BaseURL:      cfg.CommandUpstreamURL,
		APIKey:       cfg.GroqAPIKey,
		ErrorHandler: handler.UpstreamUnavailable,
	}, collector)
	if err != nil {
		return fmt.Errorf("failed to create legacy proxy: %w", err)
	}

	// 7. パイプライン
	group := background.NewGroup(slog.Default())
	p := pipeline.New(commandClient, explainClient, tracker, group, collector, slog.Default())

	// 8. ルーターの構築
	if cfg.AuthCallbackSecret == "" {
		slog.Warn("AUTH_CALLBACK_SECRET is not set; POST /auth/callback will be rejected")
	}
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),

		TokenVerifier:     tokens,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		UpgradeURL:        cfg.UpgradeURL,
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthBroker:    broker,
		OAuthProvider: oauthProvider,
		Sanitizer:     security.NewUsernameSanitizer(),
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:   cfg.CookieSecure,
			CallbackSecret: cfg.AuthCallbackSecret,
		},

		Pipeline: p,
		Quota:    tracker,
		Webhooks: webhooks,

		LegacyForwarder: legacyProxy,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	// SSEは上流の応答が終わるまで書き込みが続くため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 使用量の書き込みが残っていれば完了を待つ
	if err := group.Wait(shutdownCtx); err != nil {
		slog.Warn("background tasks did not finish before shutdown",
			slog.Int("running", group.Running()),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("gateway stopped gracefully")
	return nil
}

// runSweep はPostgresバックエンドの期限切れエントリを定期的に削除する。
// ctxがキャンセルされるまでブロックする。
func runSweep(ctx context.Context, cfg *config.Config) error {
	if cfg.KVBackend != config.KVBackendPostgres {
		return fmt.Errorf("sweep requires KV_BACKEND=%s (got %s)", config.KVBackendPostgres, cfg.KVBackend)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("sweeper starting",
		slog.Duration("interval", cfg.KVSweepInterval),
	)

	cleanup.NewSweepJob(db, slog.Default()).Start(ctx, cfg.KVSweepInterval)

	slog.Info("sweeper stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
		slog.Bool("dirty", version.Dirty),
	)
	return nil
}

func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/ping", port)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /ping エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
