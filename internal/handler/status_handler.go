package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
)

// QuotaReader はステータスハンドラーが必要とするクォータのインターフェース。
type QuotaReader interface {
	ResolveTier(ctx context.Context, subjectID string, tokenTier model.Tier) model.Tier
	Check(ctx context.Context, subjectID string, tier model.Tier) (model.QuotaStatus, error)
}

// StatusHandler は認証済みユーザーの利用状況を返すHTTPハンドラー。
type StatusHandler struct {
	quota      QuotaReader
	upgradeURL string
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(quota QuotaReader, upgradeURL string) *StatusHandler {
	return &StatusHandler{quota: quota, upgradeURL: upgradeURL}
}

type statusResponse struct {
	User      string `json:"user"`
	Tier      string `json:"tier"`
	Usage     int    `json:"usage"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Status は現在の階層と利用回数を返す。
// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError(h.upgradeURL))
		return
	}

	tier := h.quota.ResolveTier(r.Context(), identity.SubjectID, identity.Tier)
	status, err := h.quota.Check(r.Context(), identity.SubjectID, tier)
	if err != nil {
		slog.Error("failed to read usage",
			slog.String("subject", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		User:      identity.Username,
		Tier:      string(tier),
		Usage:     status.Usage,
		Limit:     status.Limit,
		Remaining: status.Remaining(),
	})
}

// Ping は死活確認に応答する。
// GET /ping
func Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}
