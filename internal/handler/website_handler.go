package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/indexman/internal/middleware"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/website"
)

// WebsiteServiceInterface はウェブサイトハンドラーが必要とするサービスインターフェース。
type WebsiteServiceInterface interface {
	// Create はウェブサイトを登録する。ドメインは正規化され、重複は拒否される。
	Create(ctx context.Context, userID, rawDomain string) (*model.Website, error)
	// List はユーザーのウェブサイト一覧を接続状態・統計付きで返す。
	List(ctx context.Context, userID string) ([]*website.Info, error)
	// Get は指定IDのウェブサイトを接続状態・統計付きで返す。
	Get(ctx context.Context, userID, websiteID string) (*website.Info, error)
	// Delete はウェブサイトを削除する。
	Delete(ctx context.Context, userID, websiteID string) error
}

// WebsiteHandler はウェブサイト管理のHTTPハンドラー。
type WebsiteHandler struct {
	service WebsiteServiceInterface
}

// NewWebsiteHandler はWebsiteHandlerを生成する。
func NewWebsiteHandler(service WebsiteServiceInterface) *WebsiteHandler {
	return &WebsiteHandler{
		service: service,
	}
}

// createWebsiteRequest はウェブサイト登録リクエストのボディ。
type createWebsiteRequest struct {
	Domain string `json:"domain"`
}

// integrationStatusResponse はプロバイダ接続状態のAPIレスポンス。
type integrationStatusResponse struct {
	Provider            string     `json:"provider"`
	Status              string     `json:"status"`
	IdentityEmail       string     `json:"identity_email,omitempty"`
	LastVerifiedAt      *time.Time `json:"last_verified_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// websiteResponse はウェブサイト情報のAPIレスポンス。
type websiteResponse struct {
	ID                 string                      `json:"id"`
	Domain             string                      `json:"domain"`
	SitemapURL         string                      `json:"sitemap_url,omitempty"`
	SitemapURLsCount   int                         `json:"sitemap_urls_count"`
	SitemapSchedule    string                      `json:"sitemap_schedule"`
	NextScheduledRunAt *time.Time                  `json:"next_scheduled_run_at,omitempty"`
	LastSubmissionDate *time.Time                  `json:"last_submission_date,omitempty"`
	Integrations       []integrationStatusResponse `json:"integrations,omitempty"`
	SubmittedToday     int                         `json:"submitted_today"`
	SubmittedTotal     int                         `json:"submitted_total"`
	CreatedAt          time.Time                   `json:"created_at"`
}

// toWebsiteResponse はドメインのWebsiteをレスポンス型に変換する。
func toWebsiteResponse(w *model.Website) websiteResponse {
	return websiteResponse{
		ID:                 w.ID,
		Domain:             w.Domain,
		SitemapURL:         w.SitemapURL,
		SitemapURLsCount:   w.SitemapURLsCount,
		SitemapSchedule:    string(w.SitemapSchedule),
		NextScheduledRunAt: w.NextScheduledRunAt,
		LastSubmissionDate: w.LastSubmissionDate,
		CreatedAt:          w.CreatedAt,
	}
}

// toWebsiteInfoResponse は接続状態・統計付きのInfoをレスポンス型に変換する。
func toWebsiteInfoResponse(info *website.Info) websiteResponse {
	resp := toWebsiteResponse(info.Website)
	resp.SubmittedToday = info.Stats.SubmittedToday
	resp.SubmittedTotal = info.Stats.SubmittedTotal
	for _, in := range info.Integrations {
		resp.Integrations = append(resp.Integrations, toIntegrationResponse(in))
	}
	return resp
}

// toIntegrationResponse は接続行をレスポンス型に変換する。
// 検証アーティファクト（認証情報・キー）はレスポンスに含めない。
func toIntegrationResponse(in *model.ProviderIntegration) integrationStatusResponse {
	return integrationStatusResponse{
		Provider:            string(in.ProviderKind),
		Status:              string(in.Status),
		IdentityEmail:       in.IdentityEmail,
		LastVerifiedAt:      in.LastVerifiedAt,
		ConsecutiveFailures: in.ConsecutiveFailures,
	}
}

// CreateWebsite はウェブサイト登録を処理する。
// POST /api/websites
func (h *WebsiteHandler) CreateWebsite(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	created, err := h.service.Create(r.Context(), userID, req.Domain)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toWebsiteResponse(created))
}

// ListWebsites はユーザーのウェブサイト一覧を取得する。
// GET /api/websites
func (h *WebsiteHandler) ListWebsites(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	infos, err := h.service.List(r.Context(), userID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	results := make([]websiteResponse, len(infos))
	for i, info := range infos {
		results[i] = toWebsiteInfoResponse(info)
	}
	writeJSON(w, http.StatusOK, results)
}

// GetWebsite はウェブサイト詳細を取得する。
// GET /api/websites/{id}
func (h *WebsiteHandler) GetWebsite(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	info, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebsiteInfoResponse(info))
}

// DeleteWebsite はウェブサイトを削除する。
// DELETE /api/websites/{id}
func (h *WebsiteHandler) DeleteWebsite(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeInvalidRequestBody はリクエストボディ解析失敗の400レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}
