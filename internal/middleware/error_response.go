package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/lgandecki/slashcmd/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。CLIはerrorフィールドを表示するため、
// messageと同じ内容をerrorにも設定する。
type ErrorResponseBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Category   string `json:"category"`
	Action     string `json:"action"`
	Usage      *int   `json:"usage,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
	UpgradeURL string `json:"upgrade_url,omitempty"`
}

// statusByCode はエラーコードとHTTPステータスの対応。
var statusByCode = map[string]int{
	model.ErrCodeUnauthorized:            http.StatusUnauthorized,
	model.ErrCodeQuotaExceeded:           http.StatusTooManyRequests,
	model.ErrCodeInvalidSession:          http.StatusBadRequest,
	model.ErrCodeSessionExpired:          http.StatusNotFound,
	model.ErrCodeInvalidRequest:          http.StatusBadRequest,
	model.ErrCodeWebhookSignatureInvalid: http.StatusUnauthorized,
	model.ErrCodeUnknownWebhookProvider:  http.StatusNotFound,
	model.ErrCodeRateLimited:             http.StatusTooManyRequests,
	model.ErrCodeUpstreamFailed:          http.StatusBadGateway,
	model.ErrCodeInternal:                http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500として扱う。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:       apiErr.Code,
		Message:    apiErr.Message,
		Error:      apiErr.Message,
		Category:   apiErr.Category,
		Action:     apiErr.Action,
		Usage:      apiErr.Usage,
		Limit:      apiErr.Limit,
		UpgradeURL: apiErr.UpgradeURL,
	})
}

// WriteAPIError はエラーコードから決まるステータスでエラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
