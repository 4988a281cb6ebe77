package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/indexman/internal/middleware"
	"github.com/hitoshi/indexman/internal/model"
)

// IntegrationServiceInterface は接続管理ハンドラーが必要とするサービスインターフェース。
type IntegrationServiceInterface interface {
	// SetGoogleCredential はサービスアカウント認証情報を登録し、検証を試みる。
	SetGoogleCredential(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error)
	// GenerateBingKey は新しい検証キーとキーファイルの設置URLを発行する。
	GenerateBingKey(ctx context.Context, userID, websiteID string) (key, fileURL string, err error)
	// SetBingKey は検証キーを登録する（状態はpendingになる）。
	SetBingKey(ctx context.Context, userID, websiteID, key string) (*model.ProviderIntegration, error)
	// VerifyBingKey はキーファイルの設置を検証し、成功すればconnectedにする。
	VerifyBingKey(ctx context.Context, userID, websiteID string) (*model.ProviderIntegration, error)
	// Disconnect はプロバイダ連携を解除する。
	Disconnect(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error)
	// ListStatus はウェブサイトの全プロバイダ接続状態を返す。
	ListStatus(ctx context.Context, userID, websiteID string) ([]*model.ProviderIntegration, error)
}

// IntegrationHandler はプロバイダ接続管理のHTTPハンドラー。
type IntegrationHandler struct {
	service IntegrationServiceInterface
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(service IntegrationServiceInterface) *IntegrationHandler {
	return &IntegrationHandler{
		service: service,
	}
}

// googleCredentialRequest はGoogle認証情報登録リクエストのボディ。
// credentialにはサービスアカウントJSONをそのまま埋め込む。
type googleCredentialRequest struct {
	Credential json.RawMessage `json:"credential"`
}

// bingKeyRequest はBing検証キー登録リクエストのボディ。
type bingKeyRequest struct {
	Key string `json:"key"`
}

// generateBingKeyResponse はキー発行レスポンス。
type generateBingKeyResponse struct {
	Key        string `json:"key"`
	KeyFileURL string `json:"key_file_url"`
}

// SetGoogleCredential はGoogleサービスアカウント認証情報を登録する。
// PATCH /api/websites/{id}/google-credentials
func (h *IntegrationHandler) SetGoogleCredential(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req googleCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if len(req.Credential) == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidDocumentError("credentialフィールドが空です"))
		return
	}

	in, err := h.service.SetGoogleCredential(r.Context(), userID, chi.URLParam(r, "id"), req.Credential)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIntegrationResponse(in))
}

// GenerateBingKey は新しいBing検証キーを発行する。
// POST /api/websites/{id}/generate-bing-key
func (h *IntegrationHandler) GenerateBingKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	key, fileURL, err := h.service.GenerateBingKey(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateBingKeyResponse{Key: key, KeyFileURL: fileURL})
}

// SetBingKey は既存のBing検証キーを登録する。
// PATCH /api/websites/{id}/bing-key
func (h *IntegrationHandler) SetBingKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req bingKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	in, err := h.service.SetBingKey(r.Context(), userID, chi.URLParam(r, "id"), req.Key)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIntegrationResponse(in))
}

// VerifyBingKey はキーファイルの設置を検証する。
// POST /api/websites/{id}/verify-bing-key
func (h *IntegrationHandler) VerifyBingKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	in, err := h.service.VerifyBingKey(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIntegrationResponse(in))
}

// Disconnect はプロバイダ連携を解除する。
// DELETE /api/websites/{id}/integrations/{provider}
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	kind := model.ProviderKind(chi.URLParam(r, "provider"))
	if !kind.IsValid() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_PROVIDER",
			Message:  "サポートされていないプロバイダです。",
			Category: "validation",
			Action:   "googleまたはbingを指定してください。",
		})
		return
	}

	in, err := h.service.Disconnect(r.Context(), userID, chi.URLParam(r, "id"), kind)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIntegrationResponse(in))
}

// ListStatus はウェブサイトの全プロバイダ接続状態を返す。
// GET /api/websites/{id}/integrations
func (h *IntegrationHandler) ListStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	integrations, err := h.service.ListStatus(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	results := make([]integrationStatusResponse, len(integrations))
	for i, in := range integrations {
		results[i] = toIntegrationResponse(in)
	}
	writeJSON(w, http.StatusOK, results)
}
