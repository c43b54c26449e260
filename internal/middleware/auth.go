// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lgandecki/slashcmd/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに呼び出し元の情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はベアラートークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (*model.Identity, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 呼び出し元の情報をリクエストコンテキストに注入するミドルウェアを返す。
// トークンが欠落・不正・期限切れの場合はアップグレード案内付きの401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier, upgradeURL string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteAPIError(w, model.NewUnauthorizedError(upgradeURL))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteAPIError(w, model.NewUnauthorizedError(upgradeURL))
				return
			}

			setLoggedSubject(r.Context(), identity.SubjectID)
			ctx := ContextWithIdentity(r.Context(), *identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken は "Authorization: Bearer <token>" からトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IdentityFromContext はリクエストコンテキストから呼び出し元の情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.SubjectID == "" {
		return model.Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストに呼び出し元の情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
