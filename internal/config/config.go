// Package config はゲートウェイの設定を環境変数から読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// KVバックエンドの種類
const (
	KVBackendRedis    = "redis"
	KVBackendPostgres = "postgres"
	KVBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Token
	JWTSecret string

	// Upstream
	GroqAPIKey         string
	GeminiAPIKey       string
	CommandUpstreamURL string
	CommandModel       string
	ExplainUpstreamURL string
	ExplainModel       string

	// KV store
	KVBackend       string
	RedisURL        string
	DatabaseURL     string
	KVSweepInterval time.Duration

	// Server
	ServerPort      string
	BaseURL         string
	ShutdownTimeout time.Duration

	// User-facing URLs
	AuthPageURL string
	UpgradeURL  string

	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Webhook
	ClerkWebhookSecret  string
	StripeWebhookSecret string
	TierSeedFile        string

	// AuthCallbackSecret はPOST /auth/callbackに必要な共有シークレット。空の場合は常に拒否する。
	AuthCallbackSecret string

	// Rate Limit
	RateLimitAuth int
	// TrustProxyHeaders はX-Forwarded-For等をクライアントIPとして信頼するかどうか。
	TrustProxyHeaders bool

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	if cfg.GroqAPIKey == "" {
		missing = append(missing, "GROQ_API_KEY")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.KVBackend = getEnvString("KV_BACKEND", KVBackendRedis)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.KVBackend == KVBackendPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.KVBackend {
	case KVBackendRedis, KVBackendPostgres, KVBackendMemory:
	default:
		return nil, fmt.Errorf("unsupported KV_BACKEND %q (want redis, postgres or memory)", cfg.KVBackend)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.KVSweepInterval = getEnvDuration("KV_SWEEP_INTERVAL", 10*time.Minute)
	cfg.CommandUpstreamURL = strings.TrimRight(getEnvString("COMMAND_UPSTREAM_URL", "https://api.groq.com/openai"), "/")
	cfg.CommandModel = getEnvString("COMMAND_MODEL", "moonshotai/kimi-k2-instruct-0905")
	cfg.ExplainUpstreamURL = strings.TrimRight(getEnvString("EXPLAIN_UPSTREAM_URL", "https://generativelanguage.googleapis.com/v1beta"), "/")
	cfg.ExplainModel = getEnvString("EXPLAIN_MODEL", "gemini-3-flash-preview")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.AuthPageURL = getEnvString("AUTH_PAGE_URL", cfg.BaseURL+"/auth/github/login")
	cfg.UpgradeURL = getEnvString("UPGRADE_URL", cfg.BaseURL+"/upgrade")
	cfg.GitHubClientID = getEnvString("GITHUB_CLIENT_ID", "")
	cfg.GitHubClientSecret = getEnvString("GITHUB_CLIENT_SECRET", "")
	cfg.GitHubRedirectURL = getEnvString("GITHUB_REDIRECT_URL", cfg.BaseURL+"/auth/github/callback")
	cfg.ClerkWebhookSecret = getEnvString("CLERK_WEBHOOK_SECRET", "")
	cfg.StripeWebhookSecret = getEnvString("STRIPE_WEBHOOK_SECRET", "")
	cfg.TierSeedFile = getEnvString("TIER_SEED_FILE", "")
	cfg.AuthCallbackSecret = getEnvString("AUTH_CALLBACK_SECRET", "")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 30)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "https://slashcmd.lgandecki.net")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// GitHubOAuthEnabled はGitHub OAuthの認証情報が設定されているかを返す。
func (c *Config) GitHubOAuthEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
