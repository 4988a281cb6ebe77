package integration

import (
	"testing"
	"time"

	"github.com/hitoshi/indexman/internal/model"
)

func newDisconnected() *model.ProviderIntegration {
	return &model.ProviderIntegration{
		ID:           "integration-1",
		WebsiteID:    "website-1",
		ProviderKind: model.ProviderBing,
		Status:       model.StatusDisconnected,
	}
}

func TestApplyArtifact_TransitionsToPending(t *testing.T) {
	in := newDisconnected()

	ApplyArtifact(in, []byte("my-key"), "")

	if in.Status != model.StatusPending {
		t.Errorf("status = %q, want %q", in.Status, model.StatusPending)
	}
	if string(in.Artifact) != "my-key" {
		t.Errorf("artifact = %q, want %q", in.Artifact, "my-key")
	}
	if in.LastVerifiedAt != nil {
		t.Error("lastVerifiedAt should be reset")
	}
}

func TestApplyArtifact_OverwritesAndResetsHistory(t *testing.T) {
	now := time.Now()
	in := newDisconnected()
	in.Status = model.StatusConnected
	in.Artifact = []byte("old-key")
	in.LastVerifiedAt = &now
	in.ConsecutiveFailures = 3

	ApplyArtifact(in, []byte("new-key"), "sa@project.iam.gserviceaccount.com")

	if in.Status != model.StatusPending {
		t.Errorf("status = %q, want %q", in.Status, model.StatusPending)
	}
	if string(in.Artifact) != "new-key" {
		t.Errorf("artifact = %q, want %q", in.Artifact, "new-key")
	}
	if in.IdentityEmail != "sa@project.iam.gserviceaccount.com" {
		t.Errorf("identityEmail = %q", in.IdentityEmail)
	}
	if in.LastVerifiedAt != nil {
		t.Error("lastVerifiedAt should be reset on artifact replacement")
	}
	if in.ConsecutiveFailures != 0 {
		t.Errorf("consecutiveFailures = %d, want 0", in.ConsecutiveFailures)
	}
}

func TestApplyVerified_TransitionsToConnected(t *testing.T) {
	in := newDisconnected()
	ApplyArtifact(in, []byte("my-key"), "")
	in.ConsecutiveFailures = 2

	at := time.Now()
	ApplyVerified(in, at)

	if in.Status != model.StatusConnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusConnected)
	}
	if in.LastVerifiedAt == nil || !in.LastVerifiedAt.Equal(at) {
		t.Errorf("lastVerifiedAt = %v, want %v", in.LastVerifiedAt, at)
	}
	if in.ConsecutiveFailures != 0 {
		t.Errorf("consecutiveFailures = %d, want 0", in.ConsecutiveFailures)
	}
}

func TestApplyVerifyFailure_PendingStaysPending(t *testing.T) {
	in := newDisconnected()
	ApplyArtifact(in, []byte("my-key"), "")

	ApplyVerifyFailure(in)

	if in.Status != model.StatusPending {
		t.Errorf("status = %q, want %q", in.Status, model.StatusPending)
	}
	if in.ConsecutiveFailures != 1 {
		t.Errorf("consecutiveFailures = %d, want 1", in.ConsecutiveFailures)
	}
}

func TestApplyVerifyFailure_ConnectedDemotedToPending(t *testing.T) {
	in := newDisconnected()
	ApplyArtifact(in, []byte("my-key"), "")
	ApplyVerified(in, time.Now())

	ApplyVerifyFailure(in)

	if in.Status != model.StatusPending {
		t.Errorf("status = %q, want %q (connected should demote to pending, not disconnected)", in.Status, model.StatusPending)
	}
	// アーティファクトは保持されること
	if string(in.Artifact) != "my-key" {
		t.Errorf("artifact should be retained, got %q", in.Artifact)
	}
}

func TestApplyVerifyFailure_AccumulatesFailures(t *testing.T) {
	in := newDisconnected()
	ApplyArtifact(in, []byte("my-key"), "")

	for i := 0; i < 5; i++ {
		ApplyVerifyFailure(in)
	}

	if in.ConsecutiveFailures != 5 {
		t.Errorf("consecutiveFailures = %d, want 5", in.ConsecutiveFailures)
	}
}

func TestApplyDisconnect_ClearsEverything(t *testing.T) {
	in := newDisconnected()
	ApplyArtifact(in, []byte("my-key"), "sa@project.iam.gserviceaccount.com")
	ApplyVerified(in, time.Now())

	ApplyDisconnect(in)

	if in.Status != model.StatusDisconnected {
		t.Errorf("status = %q, want %q", in.Status, model.StatusDisconnected)
	}
	if in.Artifact != nil {
		t.Error("artifact should be cleared")
	}
	if in.IdentityEmail != "" {
		t.Error("identityEmail should be cleared")
	}
	if in.LastVerifiedAt != nil {
		t.Error("lastVerifiedAt should be cleared")
	}
	if in.ConsecutiveFailures != 0 {
		t.Errorf("consecutiveFailures = %d, want 0", in.ConsecutiveFailures)
	}
}
