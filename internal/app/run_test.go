package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	clearTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_InvalidFlag_ReturnsError(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve", "--no-such-flag"}); err == nil {
		t.Fatal("Run with unknown flag should return error")
	}
}

func TestRun_Help_PrintsUsage(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"--help"}); err != nil {
		t.Fatalf("Run(--help) error = %v", err)
	}
	if !strings.Contains(buf.String(), "healthcheck") {
		t.Errorf("usage output = %q", buf.String())
	}
}

// TestRun_SweepCommand_RequiresPostgres はPostgres以外のバックエンドでsweepが失敗することを検証する。
func TestRun_SweepCommand_RequiresPostgres(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"sweep"})
	if err == nil || !strings.Contains(err.Error(), "KV_BACKEND") {
		t.Fatalf("Run(sweep) error = %v, want KV_BACKEND error", err)
	}
}

func TestRun_MigrateCommand_RequiresDatabaseURL(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("Run(migrate) error = %v, want DATABASE_URL error", err)
	}
}

// TestRun_ServeCommand_RedisUnavailable はRedisに接続できない場合に起動が失敗することを検証する。
func TestRun_ServeCommand_RedisUnavailable(t *testing.T) {
	setTestEnv(t)
	t.Setenv("KV_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve", "--port", "0"})
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("Run(serve) error = %v, want redis error", err)
	}
}

func TestRunServe_StopsWhenContextCancelled(t *testing.T) {
	cfg := testConfig()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runServe(ctx, cfg); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}
}

func TestRunServe_InvalidTierSeed_ReturnsError(t *testing.T) {
	cfg := testConfig()
	cfg.TierSeedFile = t.TempDir() + "/missing.yaml"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runServe(ctx, cfg); err == nil {
		t.Fatal("runServe with missing seed file should return error")
	}
}

func TestRunHealthcheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("pong"))
	}))
	defer ok.Close()

	if err := runHealthcheck(ok.URL + "/ping"); err != nil {
		t.Errorf("healthy server: error = %v", err)
	}
	if err := runHealthcheck(ok.URL + "/other"); err == nil {
		t.Error("non-200 response should fail")
	}

	ok.Close()
	if err := runHealthcheck(ok.URL + "/ping"); err == nil {
		t.Error("closed server should fail")
	}
}

func TestHealthcheckURL(t *testing.T) {
	if got := healthcheckURL("9090"); got != "http://localhost:9090/ping" {
		t.Errorf("healthcheckURL() = %q", got)
	}
}
