package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lgandecki/slashcmd/internal/config"
	"github.com/lgandecki/slashcmd/internal/database"
	"github.com/lgandecki/slashcmd/internal/repository"
	"github.com/lgandecki/slashcmd/internal/subscription"
	"github.com/lgandecki/slashcmd/internal/worker/cleanup"
)

// openKVStore は設定されたバックエンドのKVストアを開く。
// 戻り値のclose関数は接続を閉じる。
func openKVStore(ctx context.Context, cfg *config.Config) (repository.KVStore, func(), error) {
	switch cfg.KVBackend {
	case config.KVBackendRedis:
		client, err := repository.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis: %w", err)
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return repository.NewRedisKVStore(client), func() { client.Close() }, nil

	case config.KVBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database connection established")

		// Postgresは期限切れ行が残るため、同一プロセスで定期削除する
		go cleanup.NewSweepJob(db, slog.Default()).Start(ctx, cfg.KVSweepInterval)

		return repository.NewPostgresKVStore(db), func() { db.Close() }, nil

	default:
		slog.Warn("using in-memory KV store; sessions and usage are lost on restart")
		return repository.NewMemoryKVStore(), func() {}, nil
	}
}

// buildWebhookProviders は設定からWebhookプロバイダーのレジストリを構築する。
// シークレット未設定のプロバイダーも登録し、全リクエストを署名エラーとして拒否させる。
func buildWebhookProviders(cfg *config.Config, sync *subscription.Sync) (*subscription.Registry, error) {
	var clerkVerifier subscription.Verifier
	if cfg.ClerkWebhookSecret != "" {
		v, err := subscription.NewSvixVerifier(cfg.ClerkWebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid CLERK_WEBHOOK_SECRET: %w", err)
		}
		clerkVerifier = v
	} else {
		slog.Warn("CLERK_WEBHOOK_SECRET is not set; clerk webhooks will be rejected")
	}

	if cfg.StripeWebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET is not set; stripe webhooks will be rejected")
	}

	return subscription.NewRegistry(map[string]subscription.Provider{
		subscription.ProviderClerk:  subscription.NewClerkProvider(clerkVerifier, sync),
		subscription.ProviderStripe: subscription.NewStripeProvider(cfg.StripeWebhookSecret, sync),
	}), nil
}
