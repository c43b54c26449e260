// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lgandecki/slashcmd/internal/authsession"
	"github.com/lgandecki/slashcmd/internal/metrics"
	"github.com/lgandecki/slashcmd/internal/middleware"
	"github.com/lgandecki/slashcmd/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	// callbackSecretHeader は外部の完了ページが共有シークレットを送るヘッダー。
	callbackSecretHeader = "X-Callback-Secret"
)

// AuthBroker は認証ハンドラーが必要とするセッションブローカーのインターフェース。
type AuthBroker interface {
	Start(ctx context.Context) (*authsession.StartResult, error)
	Poll(ctx context.Context, sessionID string) (*authsession.PollResult, error)
	Complete(ctx context.Context, sessionID, externalID, username string) error
}

// UsernameSanitizer はOAuthプロバイダーから受け取ったユーザー名を整形する。
type UsernameSanitizer interface {
	Sanitize(raw string) string
}

// AuthRecorder は認証セッションのイベントを記録する。
type AuthRecorder interface {
	RecordAuthSession(event string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	// CallbackSecret が空の場合、POST /auth/callback は常に拒否する。
	CallbackSecret string
}

// AuthHandler はCLIログインフローのHTTPハンドラー。
type AuthHandler struct {
	broker    AuthBroker
	oauth     authsession.OAuthProvider
	sanitizer UsernameSanitizer
	recorder  AuthRecorder
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// oauthがnilの場合、GitHubのログインルートは使えない。
func NewAuthHandler(
	broker AuthBroker,
	oauth authsession.OAuthProvider,
	sanitizer UsernameSanitizer,
	recorder AuthRecorder,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		broker:    broker,
		oauth:     oauth,
		sanitizer: sanitizer,
		recorder:  recorder,
		config:    config,
	}
}

type startResponse struct {
	SessionID string `json:"session_id"`
	AuthURL   string `json:"auth_url"`
}

type pollPendingResponse struct {
	Pending bool `json:"pending"`
}

type pollCompleteResponse struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	GitHubID string `json:"github_id"`
}

// completeRequest は外部の完了ページから送られるボディ。
type completeRequest struct {
	SessionID string     `json:"session_id"`
	GitHubID  externalID `json:"github_id"`
	Username  string     `json:"username"`
}

// externalID は文字列と数値のどちらのJSON表現も受け付ける。
type externalID string

func (id *externalID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = externalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = externalID(n.String())
	return nil
}

// Start は新しいログインセッションを開始する。
// POST /auth/start
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	result, err := h.broker.Start(r.Context())
	if err != nil {
		slog.Error("failed to start auth session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.recorder.RecordAuthSession(metrics.AuthSessionStarted)

	writeJSON(w, http.StatusOK, startResponse{
		SessionID: result.SessionID,
		AuthURL:   result.AuthURL,
	})
}

// Poll はログインセッションの状態を返す。
// GET /auth/poll?session=xxx
func (h *AuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("session parameter is required"))
		return
	}

	result, err := h.broker.Poll(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, authsession.ErrSessionNotFound) {
			h.recorder.RecordAuthSession(metrics.AuthSessionExpired)
			middleware.WriteAPIError(w, model.NewSessionExpiredError())
			return
		}
		slog.Error("failed to poll auth session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if result.Pending {
		writeJSON(w, http.StatusOK, pollPendingResponse{Pending: true})
		return
	}

	h.recorder.RecordAuthSession(metrics.AuthSessionClaimed)
	writeJSON(w, http.StatusOK, pollCompleteResponse{
		Token:    result.Token,
		User:     result.User,
		GitHubID: result.ExternalID,
	})
}

// Callback は外部の完了ページからセッションを完了させる。
// POST /auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.callbackAuthorized(r) {
		slog.Warn("rejected auth callback without valid secret",
			slog.String("remote_addr", r.RemoteAddr),
		)
		middleware.WriteAPIError(w, model.NewCallbackUnauthorizedError())
		return
	}

	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("session_id is required"))
		return
	}

	username := h.sanitizer.Sanitize(req.Username)
	if err := h.complete(r.Context(), req.SessionID, string(req.GitHubID), username); err != nil {
		if errors.Is(err, authsession.ErrInvalidSession) {
			middleware.WriteAPIError(w, model.NewInvalidSessionError())
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AuthHandler) callbackAuthorized(r *http.Request) bool {
	if h.config.CallbackSecret == "" {
		return false
	}
	got := r.Header.Get(callbackSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.config.CallbackSecret)) == 1
}

// GitHubLogin はGitHub OAuthフローを開始する。
// セッションIDをstateとして使い、Cookieにも保存する。
// GET /auth/github/login?session=xxx
func (h *AuthHandler) GitHubLogin(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		renderAuthPage(w, http.StatusBadRequest, pageMissingSession)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.GetLoginURL(sessionID), http.StatusTemporaryRedirect)
}

// GitHubCallback はGitHub OAuthのコールバックを処理し、セッションを完了させる。
// GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) GitHubCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		renderAuthPage(w, http.StatusBadRequest, pageStateMismatch)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		renderAuthPage(w, http.StatusBadRequest, pageMissingCode)
		return
	}

	// 3. GitHubユーザーの取得
	info, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		renderAuthPage(w, http.StatusBadGateway, pageProviderFailed)
		return
	}

	// 4. セッションの完了
	username := h.sanitizer.Sanitize(info.Username)
	if err := h.complete(r.Context(), state, info.ProviderUserID, username); err != nil {
		if errors.Is(err, authsession.ErrInvalidSession) {
			renderAuthPage(w, http.StatusBadRequest, pageInvalidSession)
			return
		}
		renderAuthPage(w, http.StatusInternalServerError, pageInternalError)
		return
	}

	renderAuthPage(w, http.StatusOK, authPage{
		Title:   "Logged in",
		Message: "Signed in as " + username + ". You can close this window and return to your terminal.",
	})
}

func (h *AuthHandler) complete(ctx context.Context, sessionID, externalID, username string) error {
	err := h.broker.Complete(ctx, sessionID, externalID, username)
	if err == nil {
		h.recorder.RecordAuthSession(metrics.AuthSessionCompleted)
		return nil
	}
	if !errors.Is(err, authsession.ErrInvalidSession) {
		slog.Error("failed to complete auth session", slog.String("error", err.Error()))
	}
	return err
}

// authPage はブラウザに表示するログイン結果ページ。
type authPage struct {
	Title   string
	Message string
}

var (
	pageMissingSession = authPage{Title: "Login failed", Message: "The login link is missing its session. Run the login command again."}
	pageStateMismatch  = authPage{Title: "Login failed", Message: "The login request could not be verified. Run the login command again."}
	pageMissingCode    = authPage{Title: "Login failed", Message: "GitHub did not return an authorization code."}
	pageProviderFailed = authPage{Title: "Login failed", Message: "Could not reach GitHub. Please try again."}
	pageInvalidSession = authPage{Title: "Login expired", Message: "This login session is no longer valid. Run the login command again."}
	pageInternalError  = authPage{Title: "Login failed", Message: "An internal error occurred. Please try again later."}
)

var authPageTemplate = template.Must(template.New("auth").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>slashcmd - {{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;padding:0 1rem;color:#222}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

func renderAuthPage(w http.ResponseWriter, statusCode int, page authPage) {
	var buf bytes.Buffer
	if err := authPageTemplate.Execute(&buf, page); err != nil {
		slog.Error("failed to render auth page", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(buf.Bytes())
}
