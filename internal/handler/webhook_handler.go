package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lgandecki/slashcmd/internal/metrics"
	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/subscription"
)

// maxWebhookBodyBytes はWebhookボディの上限。
const maxWebhookBodyBytes = 1 << 20

// WebhookProviders はプロバイダー名からWebhookの処理系を引く。
type WebhookProviders interface {
	Lookup(name string) (subscription.Provider, bool)
}

// WebhookRecorder はWebhookの処理結果を記録する。
type WebhookRecorder interface {
	RecordWebhook(provider, result string)
}

// WebhookHandler は課金・IDプロバイダーからのWebhookを受け取るHTTPハンドラー。
type WebhookHandler struct {
	providers WebhookProviders
	recorder  WebhookRecorder
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(providers WebhookProviders, recorder WebhookRecorder) *WebhookHandler {
	return &WebhookHandler{providers: providers, recorder: recorder}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// Receive は署名を検証してイベントを階層レコードに反映する。
// 未知のイベント種別は受理して無視する。
// POST /webhook/{provider}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.providers.Lookup(name)
	if !ok {
		// 任意のパスがラベルにならないよう固定値で記録する
		h.recorder.RecordWebhook("unknown", metrics.WebhookUnknownProvider)
		middleware.WriteAPIError(w, model.NewUnknownWebhookProviderError(name))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.recorder.RecordWebhook(name, metrics.WebhookMalformed)
		middleware.WriteAPIError(w, model.NewInvalidRequestError("failed to read request body"))
		return
	}

	outcome, err := provider.Process(r.Context(), payload, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrSignatureInvalid):
			slog.Warn("webhook signature rejected",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			h.recorder.RecordWebhook(name, metrics.WebhookRejected)
			middleware.WriteAPIError(w, model.NewWebhookSignatureInvalidError())
		case errors.Is(err, subscription.ErrMalformedPayload):
			slog.Warn("malformed webhook payload",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			h.recorder.RecordWebhook(name, metrics.WebhookMalformed)
			middleware.WriteAPIError(w, model.NewInvalidRequestError("malformed webhook payload"))
		default:
			slog.Error("failed to process webhook",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			h.recorder.RecordWebhook(name, metrics.WebhookProcessingFailed)
			middleware.WriteInternalServerError(w)
		}
		return
	}

	h.recorder.RecordWebhook(name, string(outcome))
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: string(outcome)})
}
