package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/indexman/internal/middleware"
	"github.com/hitoshi/indexman/internal/model"
)

// SubmissionServiceInterface はURL送信ハンドラーが必要とするサービスインターフェース。
type SubmissionServiceInterface interface {
	// SubmitURLs はURL群を指定プロバイダへ送信する。providersが空の場合は全プロバイダ。
	SubmitURLs(ctx context.Context, userID, websiteID string, urls []string, providers []model.ProviderKind) (*model.SubmissionBatch, error)
}

// SubmissionHandler はURL送信のHTTPハンドラー。
type SubmissionHandler struct {
	service SubmissionServiceInterface
}

// NewSubmissionHandler はSubmissionHandlerを生成する。
func NewSubmissionHandler(service SubmissionServiceInterface) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
	}
}

// submitURLsRequest はURL送信リクエストのボディ。
type submitURLsRequest struct {
	URLs      []string `json:"urls"`
	Providers []string `json:"providers"`
}

// urlResultResponse はURL単位の送信結果。
type urlResultResponse struct {
	URL     string `json:"url"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// providerResultResponse はプロバイダ単位の送信結果。
type providerResultResponse struct {
	Provider string              `json:"provider"`
	Accepted int                 `json:"accepted"`
	Rejected int                 `json:"rejected"`
	Skipped  int                 `json:"skipped"`
	URLs     []urlResultResponse `json:"urls"`
}

// submissionBatchResponse は送信操作全体のレスポンス。
type submissionBatchResponse struct {
	WebsiteID     string                   `json:"website_id"`
	SubmittedAt   time.Time                `json:"submitted_at"`
	TotalAccepted int                      `json:"total_accepted"`
	InvalidURLs   []urlResultResponse      `json:"invalid_urls,omitempty"`
	Results       []providerResultResponse `json:"results"`
}

// toSubmissionBatchResponse はSubmissionBatchをレスポンス型に変換する。
// プロバイダ順は定義順（google, bing）で安定させる。
func toSubmissionBatchResponse(batch *model.SubmissionBatch) submissionBatchResponse {
	resp := submissionBatchResponse{
		WebsiteID:     batch.WebsiteID,
		SubmittedAt:   batch.SubmittedAt,
		TotalAccepted: batch.TotalAccepted(),
	}
	for _, u := range batch.InvalidURLs {
		resp.InvalidURLs = append(resp.InvalidURLs, toURLResultResponse(u))
	}
	for _, kind := range []model.ProviderKind{model.ProviderGoogle, model.ProviderBing} {
		result, ok := batch.Results[kind]
		if !ok {
			continue
		}
		pr := providerResultResponse{
			Provider: string(kind),
			Accepted: result.Accepted,
			Rejected: result.Rejected,
			Skipped:  result.Skipped,
			URLs:     make([]urlResultResponse, 0, len(result.URLs)),
		}
		for _, u := range result.URLs {
			pr.URLs = append(pr.URLs, toURLResultResponse(u))
		}
		resp.Results = append(resp.Results, pr)
	}
	return resp
}

func toURLResultResponse(u model.URLResult) urlResultResponse {
	return urlResultResponse{
		URL:     u.URL,
		Outcome: string(u.Outcome),
		Reason:  u.Reason,
	}
}

// parseProviders はリクエストのプロバイダ指定を解釈する。
// 未知のプロバイダ名が含まれる場合はfalseを返す。
func parseProviders(names []string) ([]model.ProviderKind, bool) {
	kinds := make([]model.ProviderKind, 0, len(names))
	for _, name := range names {
		kind := model.ProviderKind(name)
		if !kind.IsValid() {
			return nil, false
		}
		kinds = append(kinds, kind)
	}
	return kinds, true
}

// SubmitURLs はURL送信を処理する。
// POST /api/websites/{id}/submit-urls
func (h *SubmissionHandler) SubmitURLs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req submitURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	providers, ok := parseProviders(req.Providers)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_PROVIDER",
			Message:  "サポートされていないプロバイダです。",
			Category: "validation",
			Action:   "googleまたはbingを指定してください。",
		})
		return
	}

	batch, err := h.service.SubmitURLs(r.Context(), userID, chi.URLParam(r, "id"), req.URLs, providers)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionBatchResponse(batch))
}
