package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/indexman/internal/middleware"
	"github.com/hitoshi/indexman/internal/model"
)

// SitemapServiceInterface はサイトマップハンドラーが必要とするサービスインターフェース。
type SitemapServiceInterface interface {
	// FetchSitemap はサイトマップを取得してURL数を永続化する。
	FetchSitemap(ctx context.Context, userID, websiteID string) (*model.Website, error)
	// ListSitemapURLs はサイトマップに含まれるURL一覧をライブ取得する。
	ListSitemapURLs(ctx context.Context, userID, websiteID string) ([]string, error)
	// SubmitSitemapURLs はサイトマップのURLを先頭からlimit件送信する。
	SubmitSitemapURLs(ctx context.Context, userID, websiteID string, limit int, providers []model.ProviderKind) (*model.SubmissionBatch, error)
	// UpdateSchedule はサイトマップの自動実行スケジュールを変更する。
	UpdateSchedule(ctx context.Context, userID, websiteID string, schedule model.SitemapSchedule) (*model.Website, error)
}

// SitemapHandler はサイトマップ操作のHTTPハンドラー。
type SitemapHandler struct {
	service SitemapServiceInterface
}

// NewSitemapHandler はSitemapHandlerを生成する。
func NewSitemapHandler(service SitemapServiceInterface) *SitemapHandler {
	return &SitemapHandler{
		service: service,
	}
}

// submitSitemapURLsRequest はサイトマップURL送信リクエストのボディ。
type submitSitemapURLsRequest struct {
	Limit     int      `json:"limit"`
	Providers []string `json:"providers"`
}

// sitemapScheduleRequest はスケジュール変更リクエストのボディ。
type sitemapScheduleRequest struct {
	Schedule string `json:"schedule"`
}

// sitemapURLsResponse はサイトマップURL一覧のレスポンス。
type sitemapURLsResponse struct {
	URLs  []string `json:"urls"`
	Count int      `json:"count"`
}

// FetchSitemap はサイトマップの取得と永続化を処理する。
// POST /api/websites/{id}/fetch-sitemap
func (h *SitemapHandler) FetchSitemap(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	updated, err := h.service.FetchSitemap(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebsiteResponse(updated))
}

// ListSitemapURLs はサイトマップのURL一覧を返す。
// GET /api/websites/{id}/sitemap-urls
func (h *SitemapHandler) ListSitemapURLs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	urls, err := h.service.ListSitemapURLs(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sitemapURLsResponse{URLs: urls, Count: len(urls)})
}

// SubmitSitemapURLs はサイトマップURLの一括送信を処理する。
// POST /api/websites/{id}/submit-sitemap-urls
func (h *SitemapHandler) SubmitSitemapURLs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req submitSitemapURLsRequest
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

	batch, err := h.service.SubmitSitemapURLs(r.Context(), userID, chi.URLParam(r, "id"), req.Limit, providers)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionBatchResponse(batch))
}

// UpdateSchedule はサイトマップの自動実行スケジュールを変更する。
// PUT /api/websites/{id}/sitemap-schedule
func (h *SitemapHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req sitemapScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	updated, err := h.service.UpdateSchedule(r.Context(), userID, chi.URLParam(r, "id"), model.SitemapSchedule(req.Schedule))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebsiteResponse(updated))
}
