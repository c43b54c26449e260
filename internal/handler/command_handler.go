package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/pipeline"
	"github.com/lgandecki/slashcmd/internal/upstream"
)

// 利用状況を返すレスポンスヘッダー
const (
	headerUsage = "X-Usage"
	headerLimit = "X-Limit"
	headerTier  = "X-Tier"
)

// CommandPipeline はコマンドハンドラーが必要とするパイプラインのインターフェース。
type CommandPipeline interface {
	Admit(ctx context.Context, identity model.Identity) (*pipeline.Admission, error)
	Run(ctx context.Context, admission *pipeline.Admission, req pipeline.Request) (<-chan pipeline.Event, error)
}

// CommandHandler はコマンド生成のHTTPハンドラー。
type CommandHandler struct {
	pipeline   CommandPipeline
	upgradeURL string
}

// NewCommandHandler はCommandHandlerを生成する。
func NewCommandHandler(p CommandPipeline, upgradeURL string) *CommandHandler {
	return &CommandHandler{pipeline: p, upgradeURL: upgradeURL}
}

type commandRequest struct {
	Query string `json:"query"`
	Style string `json:"style"`
}

// Handle はクエリからコマンドと説明を生成し、Server-Sent Eventsで返す。
// POST /command
func (h *CommandHandler) Handle(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError(h.upgradeURL))
		return
	}

	var body commandRequest
	if err := decodeJSON(w, r, &body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("query is required"))
		return
	}
	style, err := upstream.ParseStyle(body.Style)
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError(err.Error()))
		return
	}

	admission, err := h.pipeline.Admit(r.Context(), identity)
	if err != nil {
		slog.Error("failed to admit command request",
			slog.String("subject", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	setUsageHeaders(w.Header(), admission)
	if !admission.Allowed() {
		middleware.WriteAPIError(w, model.NewQuotaExceededError(admission.Status.Usage, admission.Status.Limit, h.upgradeURL))
		return
	}

	sse, err := pipeline.NewSSEWriter(w)
	if err != nil {
		slog.Error("streaming unsupported", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	events, err := h.pipeline.Run(r.Context(), admission, pipeline.Request{Query: query, Style: style})
	if err != nil {
		slog.Error("failed to start command pipeline",
			slog.String("subject", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	pipeline.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sse.Flush()

	for ev := range events {
		if err := sse.WriteEvent(ev); err != nil {
			// クライアント切断後もパイプラインは完走する
			slog.Info("client stopped reading command stream",
				slog.String("subject", identity.SubjectID),
				slog.String("error", err.Error()),
			)
			return
		}
		// done/errorの後に届くイベントは送らない
		if ev.IsTerminal() {
			return
		}
	}
}

// setUsageHeaders はストリームを読まないクライアント向けに利用状況をヘッダーに設定する。
func setUsageHeaders(h http.Header, admission *pipeline.Admission) {
	h.Set(headerUsage, strconv.Itoa(admission.Status.Usage))
	h.Set(headerLimit, strconv.Itoa(admission.Status.Limit))
	h.Set(headerTier, string(admission.Tier))
}
