// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプライン、上流クライアント、ハンドラー層から利用する。
type MetricsCollector interface {
	RecordCommand(outcome string)
	RecordQuotaRejection()
	ObserveUpstream(upstream string, elapsed time.Duration, failed bool)
	RecordAuthSession(event string)
	RecordWebhook(provider, result string)
	RecordHTTPStatus(statusCode int)
}

// 認証セッションのイベント名
const (
	AuthSessionStarted   = "started"
	AuthSessionCompleted = "completed"
	AuthSessionClaimed   = "claimed"
	AuthSessionExpired   = "expired"
)

// Webhookの処理結果
const (
	WebhookApplied          = "applied"
	WebhookIgnored          = "ignored"
	WebhookRejected         = "rejected"
	WebhookMalformed        = "malformed"
	WebhookUnknownProvider  = "unknown_provider"
	WebhookProcessingFailed = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commands         *prometheus.CounterVec
	quotaRejections  prometheus.Counter
	upstreamLatency  *prometheus.HistogramVec
	upstreamFailures *prometheus.CounterVec
	authSessions     *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slashcmd_commands_total",
			Help: "結果別のコマンドパイプライン実行数",
		}, []string{"outcome"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slashcmd_quota_rejections_total",
			Help: "無料枠の上限到達で拒否したリクエスト数",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slashcmd_upstream_latency_seconds",
			Help:    "上流LLM APIのレイテンシ（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"upstream"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slashcmd_upstream_failures_total",
			Help: "上流LLM API呼び出しの失敗数",
		}, []string{"upstream"}),
		authSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slashcmd_auth_sessions_total",
			Help: "イベント別の認証セッション数",
		}, []string{"event"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slashcmd_webhook_events_total",
			Help: "プロバイダーと結果別のWebhook受信数",
		}, []string{"provider", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slashcmd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.commands,
		c.quotaRejections,
		c.upstreamLatency,
		c.upstreamFailures,
		c.authSessions,
		c.webhookEvents,
		c.httpStatus,
	)

	return c
}

// RecordCommand はパイプラインの実行結果を記録する。
func (c *Collector) RecordCommand(outcome string) {
	c.commands.WithLabelValues(outcome).Inc()
}

// RecordQuotaRejection はクォータ超過による拒否を記録する。
func (c *Collector) RecordQuotaRejection() {
	c.quotaRejections.Inc()
}

// ObserveUpstream は上流呼び出しのレイテンシと失敗を記録する。
func (c *Collector) ObserveUpstream(upstream string, elapsed time.Duration, failed bool) {
	c.upstreamLatency.WithLabelValues(upstream).Observe(elapsed.Seconds())
	if failed {
		c.upstreamFailures.WithLabelValues(upstream).Inc()
	}
}

// RecordAuthSession は認証セッションのイベントを記録する。
func (c *Collector) RecordAuthSession(event string) {
	c.authSessions.WithLabelValues(event).Inc()
}

// RecordWebhook はWebhookの処理結果を記録する。
func (c *Collector) RecordWebhook(provider, result string) {
	c.webhookEvents.WithLabelValues(provider, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
