// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// CLIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, quota, validation, upstream, system
	Action   string // ユーザー向け対処方法

	// クォータ関連のエラーでのみ設定する
	Usage      *int
	Limit      *int
	UpgradeURL string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeQuotaExceeded           = "QUOTA_EXCEEDED"
	ErrCodeInvalidSession          = "INVALID_SESSION"
	ErrCodeSessionExpired          = "SESSION_EXPIRED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeWebhookSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
	ErrCodeUnknownWebhookProvider  = "UNKNOWN_WEBHOOK_PROVIDER"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeUpstreamFailed          = "UPSTREAM_FAILED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewUnauthorizedError はトークン欠落・不正・期限切れのエラーを生成する。
// upgradeURLはアップグレード案内としてレスポンスに含める。
func NewUnauthorizedError(upgradeURL string) *APIError {
	return &APIError{
		Code:       ErrCodeUnauthorized,
		Message:    "Missing, invalid or expired token.",
		Category:   "auth",
		Action:     "Run 'slashcmd login' to authenticate.",
		UpgradeURL: upgradeURL,
	}
}

// NewQuotaExceededError は無料枠の上限到達エラーを生成する。
func NewQuotaExceededError(usage, limit int, upgradeURL string) *APIError {
	return &APIError{
		Code:       ErrCodeQuotaExceeded,
		Message:    fmt.Sprintf("Free tier limit reached (%d/%d).", usage, limit),
		Category:   "quota",
		Action:     "Upgrade to pro for unlimited requests.",
		Usage:      &usage,
		Limit:      &limit,
		UpgradeURL: upgradeURL,
	}
}

// NewCallbackUnauthorizedError は完了コールバックの共有シークレット不一致のエラーを生成する。
func NewCallbackUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Missing or invalid callback secret.",
		Category: "auth",
		Action:   "Send the configured callback secret.",
	}
}

// NewInvalidSessionError は完了できない認証セッションのエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "Invalid session.",
		Category: "auth",
		Action:   "Restart the login flow with 'slashcmd login'.",
	}
}

// NewSessionExpiredError は存在しない、または期限切れの認証セッションのエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "Session expired or not found.",
		Category: "auth",
		Action:   "Restart the login flow with 'slashcmd login'.",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewWebhookSignatureInvalidError はWebhook署名検証の失敗を表すエラーを生成する。
func NewWebhookSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeWebhookSignatureInvalid,
		Message:  "Webhook signature verification failed.",
		Category: "auth",
		Action:   "Check the webhook signing secret.",
	}
}

// NewUnknownWebhookProviderError は未登録のWebhookプロバイダーのエラーを生成する。
func NewUnknownWebhookProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownWebhookProvider,
		Message:  fmt.Sprintf("Unknown webhook provider: %s", provider),
		Category: "validation",
		Action:   "Use a configured provider path.",
	}
}

// NewRateLimitedError は短時間に集中したリクエストのエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewUpstreamFailedError は上流サービス呼び出しの失敗を表すエラーを生成する。
func NewUpstreamFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  "Upstream request failed.",
		Category: "upstream",
		Action:   "Please try again in a moment.",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal error.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}
