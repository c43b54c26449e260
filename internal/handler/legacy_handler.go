package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/pipeline"
)

// LegacyAdmitter は旧APIのプロキシ経路で使うクォータ操作のインターフェース。
type LegacyAdmitter interface {
	Admit(ctx context.Context, identity model.Identity) (*pipeline.Admission, error)
	IncrementInBackground(ctx context.Context, admission *pipeline.Admission)
}

// LegacyForwarder はリクエストを上流にそのまま転送し、上流のステータスを返す。
type LegacyForwarder interface {
	Forward(w http.ResponseWriter, r *http.Request) int
}

// LegacyHandler は旧クライアント向けの /v1/* パススルーのHTTPハンドラー。
type LegacyHandler struct {
	admitter   LegacyAdmitter
	forwarder  LegacyForwarder
	upgradeURL string
}

// NewLegacyHandler はLegacyHandlerを生成する。
func NewLegacyHandler(admitter LegacyAdmitter, forwarder LegacyForwarder, upgradeURL string) *LegacyHandler {
	return &LegacyHandler{admitter: admitter, forwarder: forwarder, upgradeURL: upgradeURL}
}

// Proxy はクォータを確認してからリクエストを上流に転送する。
// 成功応答の場合のみ、レスポンスを待たせずに利用回数を加算する。
// ANY /v1/*
func (h *LegacyHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError(h.upgradeURL))
		return
	}

	admission, err := h.admitter.Admit(r.Context(), identity)
	if err != nil {
		slog.Error("failed to admit legacy request",
			slog.String("subject", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if !admission.Allowed() {
		middleware.WriteAPIError(w, model.NewQuotaExceededError(admission.Status.Usage, admission.Status.Limit, h.upgradeURL))
		return
	}

	status := h.forwarder.Forward(w, r)
	if status >= 200 && status < 300 {
		h.admitter.IncrementInBackground(r.Context(), admission)
	}
}

// UpstreamUnavailable は旧APIプロキシが上流に到達できなかった場合の応答を書く。
func UpstreamUnavailable(w http.ResponseWriter, _ *http.Request, _ error) {
	middleware.WriteAPIError(w, model.NewUpstreamFailedError())
}
