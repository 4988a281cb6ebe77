package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// --- モック定義 ---

type mockWebsiteRepo struct {
	findByIDForUserFn func(ctx context.Context, id, userID string) (*model.Website, error)
}

func (m *mockWebsiteRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Website, error) {
	if m.findByIDForUserFn != nil {
		return m.findByIDForUserFn(ctx, id, userID)
	}
	return nil, nil
}

func (m *mockWebsiteRepo) FindByUserAndDomain(_ context.Context, _, _ string) (*model.Website, error) {
	return nil, nil
}

func (m *mockWebsiteRepo) ListByUserID(_ context.Context, _ string) ([]*model.Website, error) {
	return nil, nil
}

func (m *mockWebsiteRepo) CreateWithIntegrations(_ context.Context, _ *model.Website, _ []*model.ProviderIntegration) error {
	return nil
}

func (m *mockWebsiteRepo) Delete(_ context.Context, _ string) error { return nil }

func (m *mockWebsiteRepo) UpdateSitemap(_ context.Context, _, _ string, _ int) error { return nil }

func (m *mockWebsiteRepo) UpdateSchedule(_ context.Context, _ string, _ model.SitemapSchedule, _ *time.Time) error {
	return nil
}

func (m *mockWebsiteRepo) TouchLastSubmission(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (m *mockWebsiteRepo) ListDueForScheduledRun(_ context.Context) ([]*model.Website, error) {
	return nil, nil
}

type mockIntegrationRepo struct {
	findByWebsiteAndKindFn func(ctx context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error)
	listByWebsiteIDFn      func(ctx context.Context, websiteID string) ([]*model.ProviderIntegration, error)
	updateStateFn          func(ctx context.Context, integration *model.ProviderIntegration) error
}

func (m *mockIntegrationRepo) FindByWebsiteAndKind(ctx context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
	if m.findByWebsiteAndKindFn != nil {
		return m.findByWebsiteAndKindFn(ctx, websiteID, kind)
	}
	return nil, nil
}

func (m *mockIntegrationRepo) ListByWebsiteID(ctx context.Context, websiteID string) ([]*model.ProviderIntegration, error) {
	if m.listByWebsiteIDFn != nil {
		return m.listByWebsiteIDFn(ctx, websiteID)
	}
	return nil, nil
}

func (m *mockIntegrationRepo) UpdateState(ctx context.Context, integration *model.ProviderIntegration) error {
	if m.updateStateFn != nil {
		return m.updateStateFn(ctx, integration)
	}
	return nil
}

func (m *mockIntegrationRepo) ListConnectedByKind(_ context.Context, _ model.ProviderKind) ([]repository.IntegrationWithDomain, error) {
	return nil, nil
}

type mockCredChecker struct {
	checkFn func(ctx context.Context, document []byte) error
}

func (m *mockCredChecker) CheckCredential(ctx context.Context, document []byte) error {
	if m.checkFn != nil {
		return m.checkFn(ctx, document)
	}
	return nil
}

var _ repository.WebsiteRepository = (*mockWebsiteRepo)(nil)
var _ repository.IntegrationRepository = (*mockIntegrationRepo)(nil)
var _ CredentialChecker = (*mockCredChecker)(nil)

// --- ヘルパー ---

func ownedWebsite(domain string) *mockWebsiteRepo {
	return &mockWebsiteRepo{
		findByIDForUserFn: func(ctx context.Context, id, userID string) (*model.Website, error) {
			return &model.Website{ID: id, UserID: userID, Domain: domain}, nil
		},
	}
}

func integrationRowOf(in *model.ProviderIntegration) *mockIntegrationRepo {
	return &mockIntegrationRepo{
		findByWebsiteAndKindFn: func(ctx context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
			copied := *in
			return &copied, nil
		},
	}
}

// --- テスト ---

func TestSetGoogleCredential_ValidAndVerified_Connected(t *testing.T) {
	ctx := context.Background()

	var saved *model.ProviderIntegration
	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-1", WebsiteID: "w-1", ProviderKind: model.ProviderGoogle,
		Status: model.StatusDisconnected,
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		saved = in
		return nil
	}

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, &mockCredChecker{})

	document := []byte(`{"type":"service_account","client_email":"sa@project.iam.gserviceaccount.com","private_key":"---"}`)
	in, err := svc.SetGoogleCredential(ctx, "u-1", "w-1", document)
	if err != nil {
		t.Fatalf("SetGoogleCredential() error = %v", err)
	}

	if in.Status != model.StatusConnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusConnected)
	}
	if in.IdentityEmail != "sa@project.iam.gserviceaccount.com" {
		t.Errorf("identityEmail = %q", in.IdentityEmail)
	}
	if saved == nil {
		t.Fatal("expected state to be persisted")
	}
}

func TestSetGoogleCredential_MissingClientEmail_StillAccepted(t *testing.T) {
	ctx := context.Background()

	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-1", WebsiteID: "w-1", ProviderKind: model.ProviderGoogle,
		Status: model.StatusDisconnected,
	})

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, &mockCredChecker{})

	// client_emailを含まないが有効なJSON
	in, err := svc.SetGoogleCredential(ctx, "u-1", "w-1", []byte(`{"type":"service_account"}`))
	if err != nil {
		t.Fatalf("SetGoogleCredential() error = %v", err)
	}
	if in.IdentityEmail != "" {
		t.Errorf("identityEmail = %q, want empty", in.IdentityEmail)
	}
	if in.Status != model.StatusConnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusConnected)
	}
}

func TestSetGoogleCredential_InvalidJSON_ReturnsInvalidDocument(t *testing.T) {
	ctx := context.Background()

	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-1", WebsiteID: "w-1", ProviderKind: model.ProviderGoogle,
		Status: model.StatusDisconnected,
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		t.Fatal("state should not be updated for invalid document")
		return nil
	}

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, &mockCredChecker{})

	_, err := svc.SetGoogleCredential(ctx, "u-1", "w-1", []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidDocument {
		t.Errorf("error = %v, want APIError with code %s", err, model.ErrCodeInvalidDocument)
	}
}

func TestSetGoogleCredential_CheckerFails_StaysPending(t *testing.T) {
	ctx := context.Background()

	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-1", WebsiteID: "w-1", ProviderKind: model.ProviderGoogle,
		Status: model.StatusDisconnected,
	})

	checker := &mockCredChecker{
		checkFn: func(ctx context.Context, document []byte) error {
			return errors.New("invalid_grant")
		},
	}

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, checker)

	in, err := svc.SetGoogleCredential(ctx, "u-1", "w-1", []byte(`{"type":"service_account"}`))
	if err != nil {
		t.Fatalf("SetGoogleCredential() error = %v", err)
	}
	if in.Status != model.StatusPending {
		t.Errorf("status = %q, want %q", in.Status, model.StatusPending)
	}
	if in.ConsecutiveFailures != 1 {
		t.Errorf("consecutiveFailures = %d, want 1", in.ConsecutiveFailures)
	}
}

func TestSetGoogleCredential_WebsiteNotOwned_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()

	websiteRepo := &mockWebsiteRepo{
		findByIDForUserFn: func(ctx context.Context, id, userID string) (*model.Website, error) {
			return nil, nil // 所有者が異なる、または存在しない
		},
	}

	svc := NewService(websiteRepo, &mockIntegrationRepo{}, nil, &mockCredChecker{})

	_, err := svc.SetGoogleCredential(ctx, "u-other", "w-1", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for unowned website")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeWebsiteNotFound {
		t.Errorf("error = %v, want APIError with code %s", err, model.ErrCodeWebsiteNotFound)
	}
}

func TestGenerateBingKey_ReturnsKeyAndFileURL(t *testing.T) {
	ctx := context.Background()

	var saved *model.ProviderIntegration
	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusDisconnected,
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		saved = in
		return nil
	}

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, nil)

	key, fileURL, err := svc.GenerateBingKey(ctx, "u-1", "w-1")
	if err != nil {
		t.Fatalf("GenerateBingKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}
	wantURL := "https://example.com/" + key + ".txt"
	if fileURL != wantURL {
		t.Errorf("fileURL = %q, want %q", fileURL, wantURL)
	}
	if saved == nil || saved.Status != model.StatusPending {
		t.Error("expected pending state to be persisted")
	}
	if string(saved.Artifact) != key {
		t.Error("expected key to be stored as artifact")
	}
}

func TestVerifyBingKey_Success_Connected(t *testing.T) {
	ctx := context.Background()
	const key = "aabbccddeeff00112233445566778899"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(key + "\n"))
	}))
	defer ts.Close()

	var saved *model.ProviderIntegration
	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusPending, Artifact: []byte(key),
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		saved = in
		return nil
	}

	verifier := NewKeyFileVerifier(&http.Client{Timeout: 5 * time.Second}, 64*1024)
	svc := NewService(ownedWebsite(ts.URL), integRepo, verifier, nil)

	in, err := svc.VerifyBingKey(ctx, "u-1", "w-1")
	if err != nil {
		t.Fatalf("VerifyBingKey() error = %v", err)
	}
	if in.Status != model.StatusConnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusConnected)
	}
	if saved == nil || saved.LastVerifiedAt == nil {
		t.Error("expected lastVerifiedAt to be persisted")
	}
}

func TestVerifyBingKey_NotFound_ReturnsKeyNotFound(t *testing.T) {
	ctx := context.Background()
	const key = "aabbccddeeff00112233445566778899"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	var saved *model.ProviderIntegration
	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusPending, Artifact: []byte(key),
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		saved = in
		return nil
	}

	verifier := NewKeyFileVerifier(&http.Client{Timeout: 5 * time.Second}, 64*1024)
	svc := NewService(ownedWebsite(ts.URL), integRepo, verifier, nil)

	_, err := svc.VerifyBingKey(ctx, "u-1", "w-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeKeyNotFound {
		t.Fatalf("error = %v, want APIError with code %s", err, model.ErrCodeKeyNotFound)
	}
	// 失敗が記録されること
	if saved == nil || saved.ConsecutiveFailures != 1 {
		t.Error("expected failure to be recorded")
	}
}

func TestVerifyBingKey_Mismatch_ReturnsKeyMismatch(t *testing.T) {
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong-content"))
	}))
	defer ts.Close()

	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusPending, Artifact: []byte("aabbccddeeff00112233445566778899"),
	})

	verifier := NewKeyFileVerifier(&http.Client{Timeout: 5 * time.Second}, 64*1024)
	svc := NewService(ownedWebsite(ts.URL), integRepo, verifier, nil)

	_, err := svc.VerifyBingKey(ctx, "u-1", "w-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeKeyMismatch {
		t.Fatalf("error = %v, want APIError with code %s", err, model.ErrCodeKeyMismatch)
	}
}

func TestVerifyBingKey_NoArtifact_ReturnsNotConnected(t *testing.T) {
	ctx := context.Background()

	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusDisconnected,
	})

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, nil)

	_, err := svc.VerifyBingKey(ctx, "u-1", "w-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotConnected {
		t.Fatalf("error = %v, want APIError with code %s", err, model.ErrCodeNotConnected)
	}
}

func TestDisconnect_ClearsArtifact(t *testing.T) {
	ctx := context.Background()

	var saved *model.ProviderIntegration
	integRepo := integrationRowOf(&model.ProviderIntegration{
		ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
		Status: model.StatusConnected, Artifact: []byte("some-key"),
	})
	integRepo.updateStateFn = func(ctx context.Context, in *model.ProviderIntegration) error {
		saved = in
		return nil
	}

	svc := NewService(ownedWebsite("example.com"), integRepo, nil, nil)

	in, err := svc.Disconnect(ctx, "u-1", "w-1", model.ProviderBing)
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if in.Status != model.StatusDisconnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusDisconnected)
	}
	if saved == nil || saved.Artifact != nil {
		t.Error("expected artifact to be cleared in persisted state")
	}
}

func TestReverify_BingFailure_DemotesToPending(t *testing.T) {
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	var saved *model.ProviderIntegration
	integRepo := &mockIntegrationRepo{
		updateStateFn: func(ctx context.Context, in *model.ProviderIntegration) error {
			saved = in
			return nil
		},
	}

	verifier := NewKeyFileVerifier(&http.Client{Timeout: 5 * time.Second}, 64*1024)
	svc := NewService(nil, integRepo, verifier, nil)

	item := repository.IntegrationWithDomain{
		ProviderIntegration: model.ProviderIntegration{
			ID: "in-2", WebsiteID: "w-1", ProviderKind: model.ProviderBing,
			Status: model.StatusConnected, Artifact: []byte("aabbccddeeff00112233445566778899"),
		},
		Domain: ts.URL,
	}

	if err := svc.Reverify(ctx, item); err != nil {
		t.Fatalf("Reverify() error = %v", err)
	}
	if saved == nil {
		t.Fatal("expected state to be persisted")
	}
	if saved.Status != model.StatusPending {
		t.Errorf("status = %q, want %q", saved.Status, model.StatusPending)
	}
}
