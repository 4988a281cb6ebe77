package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/indexman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusCodeForError はAPIエラーコードに対応するHTTPステータスコードを返す。
func StatusCodeForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidDocument,
		model.ErrCodeInvalidDomain,
		model.ErrCodeInvalidURL,
		model.ErrCodeInvalidSchedule,
		model.ErrCodeEmptySubmission:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeWebsiteNotFound,
		model.ErrCodeUserNotFound,
		model.ErrCodeSitemapNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateWebsite,
		model.ErrCodeNotConnected:
		return http.StatusConflict
	case model.ErrCodeKeyNotFound,
		model.ErrCodeKeyMismatch,
		model.ErrCodeSitemapParse:
		return http.StatusUnprocessableEntity
	case model.ErrCodeSubmissionLimit:
		return http.StatusTooManyRequests
	case model.ErrCodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIエラーはコードに応じたステータスで返し、それ以外は詳細をログに残して500を返す。
func HandleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusCodeForError(apiErr), apiErr)
		return
	}
	slog.Error("unhandled service error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
