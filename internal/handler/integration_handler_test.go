package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/indexman/internal/model"
)

// mockIntegrationService はIntegrationServiceInterfaceのモック実装。
type mockIntegrationService struct {
	setGoogleCredentialFn func(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error)
	generateBingKeyFn     func(ctx context.Context, userID, websiteID string) (string, string, error)
	setBingKeyFn          func(ctx context.Context, userID, websiteID, key string) (*model.ProviderIntegration, error)
	verifyBingKeyFn       func(ctx context.Context, userID, websiteID string) (*model.ProviderIntegration, error)
	disconnectFn          func(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error)
	listStatusFn          func(ctx context.Context, userID, websiteID string) ([]*model.ProviderIntegration, error)
}

func (m *mockIntegrationService) SetGoogleCredential(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error) {
	if m.setGoogleCredentialFn != nil {
		return m.setGoogleCredentialFn(ctx, userID, websiteID, document)
	}
	return nil, nil
}

func (m *mockIntegrationService) GenerateBingKey(ctx context.Context, userID, websiteID string) (string, string, error) {
	if m.generateBingKeyFn != nil {
		return m.generateBingKeyFn(ctx, userID, websiteID)
	}
	return "", "", nil
}

func (m *mockIntegrationService) SetBingKey(ctx context.Context, userID, websiteID, key string) (*model.ProviderIntegration, error) {
	if m.setBingKeyFn != nil {
		return m.setBingKeyFn(ctx, userID, websiteID, key)
	}
	return nil, nil
}

func (m *mockIntegrationService) VerifyBingKey(ctx context.Context, userID, websiteID string) (*model.ProviderIntegration, error) {
	if m.verifyBingKeyFn != nil {
		return m.verifyBingKeyFn(ctx, userID, websiteID)
	}
	return nil, nil
}

func (m *mockIntegrationService) Disconnect(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID, websiteID, kind)
	}
	return nil, nil
}

func (m *mockIntegrationService) ListStatus(ctx context.Context, userID, websiteID string) ([]*model.ProviderIntegration, error) {
	if m.listStatusFn != nil {
		return m.listStatusFn(ctx, userID, websiteID)
	}
	return nil, nil
}

var _ IntegrationServiceInterface = (*mockIntegrationService)(nil)

func connectedGoogleIntegration() *model.ProviderIntegration {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.ProviderIntegration{
		WebsiteID:      "web-1",
		ProviderKind:   model.ProviderGoogle,
		Status:         model.StatusConnected,
		IdentityEmail:  "svc@project.iam.gserviceaccount.com",
		Artifact:       []byte(`{"private_key":"secret"}`),
		LastVerifiedAt: &now,
	}
}

// --- PATCH /api/websites/{id}/google-credentials テスト ---

func TestIntegrationHandler_SetGoogleCredential_Success(t *testing.T) {
	var gotDocument []byte
	svc := &mockIntegrationService{
		setGoogleCredentialFn: func(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error) {
			gotDocument = document
			return connectedGoogleIntegration(), nil
		},
	}

	h := NewIntegrationHandler(svc)

	body := bytes.NewBufferString(`{"credential":{"type":"service_account","client_email":"svc@project.iam.gserviceaccount.com"}}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/websites/web-1/google-credentials", body)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.SetGoogleCredential(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !json.Valid(gotDocument) {
		t.Errorf("document passed to service is not valid JSON: %s", gotDocument)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "connected" {
		t.Errorf("status = %v, want %q", result["status"], "connected")
	}
	if result["identity_email"] != "svc@project.iam.gserviceaccount.com" {
		t.Errorf("identity_email = %v", result["identity_email"])
	}
	// 認証情報そのものはレスポンスに含めない
	if _, ok := result["artifact"]; ok {
		t.Error("artifact must not appear in the response")
	}
}

func TestIntegrationHandler_SetGoogleCredential_EmptyCredential(t *testing.T) {
	h := NewIntegrationHandler(&mockIntegrationService{})

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/websites/web-1/google-credentials", body)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.SetGoogleCredential(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeInvalidDocument {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeInvalidDocument)
	}
}

func TestIntegrationHandler_SetGoogleCredential_InvalidDocument(t *testing.T) {
	svc := &mockIntegrationService{
		setGoogleCredentialFn: func(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error) {
			return nil, model.NewInvalidDocumentError("client_emailがありません")
		},
	}

	h := NewIntegrationHandler(svc)

	body := bytes.NewBufferString(`{"credential":{"type":"service_account"}}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/websites/web-1/google-credentials", body)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.SetGoogleCredential(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// --- POST /api/websites/{id}/generate-bing-key テスト ---

func TestIntegrationHandler_GenerateBingKey_Success(t *testing.T) {
	svc := &mockIntegrationService{
		generateBingKeyFn: func(ctx context.Context, userID, websiteID string) (string, string, error) {
			return "abcdef0123456789", "https://example.com/abcdef0123456789.txt", nil
		},
	}

	h := NewIntegrationHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/websites/web-1/generate-bing-key", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.GenerateBingKey(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["key"] != "abcdef0123456789" {
		t.Errorf("key = %q", result["key"])
	}
	if result["key_file_url"] != "https://example.com/abcdef0123456789.txt" {
		t.Errorf("key_file_url = %q", result["key_file_url"])
	}
}

// --- POST /api/websites/{id}/verify-bing-key テスト ---

func TestIntegrationHandler_VerifyBingKey_KeyMismatch(t *testing.T) {
	svc := &mockIntegrationService{
		verifyBingKeyFn: func(ctx context.Context, userID, websiteID string) (*model.ProviderIntegration, error) {
			return nil, model.NewKeyMismatchError("https://example.com/key.txt")
		},
	}

	h := NewIntegrationHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/websites/web-1/verify-bing-key", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.VerifyBingKey(w, req)

	if w.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnprocessableEntity)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeKeyMismatch {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeKeyMismatch)
	}
}

// --- DELETE /api/websites/{id}/integrations/{provider} テスト ---

func TestIntegrationHandler_Disconnect_InvalidProvider(t *testing.T) {
	called := false
	svc := &mockIntegrationService{
		disconnectFn: func(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
			called = true
			return nil, nil
		},
	}

	h := NewIntegrationHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/websites/web-1/integrations/yandex", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	req = withChiURLParam(req, "provider", "yandex")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
	if called {
		t.Error("service must not be called for an invalid provider")
	}
}

func TestIntegrationHandler_Disconnect_Success(t *testing.T) {
	svc := &mockIntegrationService{
		disconnectFn: func(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
			if kind != model.ProviderBing {
				t.Errorf("kind = %q, want %q", kind, model.ProviderBing)
			}
			return &model.ProviderIntegration{
				WebsiteID:    websiteID,
				ProviderKind: kind,
				Status:       model.StatusDisconnected,
			}, nil
		},
	}

	h := NewIntegrationHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/websites/web-1/integrations/bing", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	req = withChiURLParam(req, "provider", "bing")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "disconnected" {
		t.Errorf("status = %v, want %q", result["status"], "disconnected")
	}
}

// --- GET /api/websites/{id}/integrations テスト ---

func TestIntegrationHandler_ListStatus_Success(t *testing.T) {
	svc := &mockIntegrationService{
		listStatusFn: func(ctx context.Context, userID, websiteID string) ([]*model.ProviderIntegration, error) {
			return []*model.ProviderIntegration{
				connectedGoogleIntegration(),
				{WebsiteID: "web-1", ProviderKind: model.ProviderBing, Status: model.StatusPending},
			}, nil
		},
	}

	h := NewIntegrationHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/websites/web-1/integrations", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.ListStatus(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var results []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results length = %d, want 2", len(results))
	}
	if results[0]["provider"] != "google" || results[0]["status"] != "connected" {
		t.Errorf("unexpected first result: %v", results[0])
	}
	if results[1]["provider"] != "bing" || results[1]["status"] != "pending" {
		t.Errorf("unexpected second result: %v", results[1])
	}
}

func TestIntegrationHandler_ListStatus_NoUserID_Returns401(t *testing.T) {
	h := NewIntegrationHandler(&mockIntegrationService{})

	req := httptest.NewRequest(http.MethodGet, "/api/websites/web-1/integrations", nil)
	req = withChiURLParam(req, "id", "web-1")
	w := httptest.NewRecorder()

	h.ListStatus(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
