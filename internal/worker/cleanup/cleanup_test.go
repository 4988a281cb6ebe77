package cleanup

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func seedSession(t *testing.T, store *repository.MemoryStore, id string, expiresAt time.Time) {
	t.Helper()
	err := store.Sessions().Create(context.Background(), &model.Session{
		ID:        id,
		UserID:    "user-1",
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
}

func TestCleanupJob_Run_DeletesExpiredSessions(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	seedSession(t, store, "session-expired", time.Now().Add(-time.Hour))
	seedSession(t, store, "session-live", time.Now().Add(time.Hour))

	j := NewCleanupJob(store.Sessions(), store.Submissions(), newTestLogger(&buf))

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	live, err := store.Sessions().FindByID(context.Background(), "session-live")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if live == nil {
		t.Error("live session must not be deleted")
	}

	expired, err := store.Sessions().FindByID(context.Background(), "session-expired")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if expired != nil {
		t.Error("expired session should be deleted")
	}
}

func TestCleanupJob_Run_DeletesOldSubmissionCounters(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	website := &model.Website{
		ID:              "web-1",
		UserID:          "user-1",
		Domain:          "example.com",
		SitemapSchedule: model.ScheduleManual,
	}
	if err := store.Websites().CreateWithIntegrations(context.Background(), website, nil); err != nil {
		t.Fatalf("failed to create website: %v", err)
	}

	ctx := context.Background()
	today := time.Now()
	oldDay := today.AddDate(0, 0, -120)

	if err := store.Submissions().AddCounts(ctx, "web-1", model.ProviderGoogle, oldDay, 10, 0); err != nil {
		t.Fatalf("failed to add old counts: %v", err)
	}
	if err := store.Submissions().AddCounts(ctx, "web-1", model.ProviderGoogle, today, 5, 0); err != nil {
		t.Fatalf("failed to add recent counts: %v", err)
	}

	j := NewCleanupJob(store.Sessions(), store.Submissions(), newTestLogger(&buf))

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 当日分のカウンタは残り、120日前のものは消える
	stats, err := store.Submissions().StatsByWebsite(ctx, "web-1", today)
	if err != nil {
		t.Fatalf("StatsByWebsite returned error: %v", err)
	}
	if stats.SubmittedToday != 5 {
		t.Errorf("SubmittedToday = %d, want 5", stats.SubmittedToday)
	}
	if stats.SubmittedTotal != 5 {
		t.Errorf("SubmittedTotal = %d, want 5 (old counters deleted)", stats.SubmittedTotal)
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	j := NewCleanupJob(store.Sessions(), store.Submissions(), newTestLogger(&buf))

	// 削除対象がなくてもエラーにならない
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
}

func TestCleanupJob_Start_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	j := NewCleanupJob(store.Sessions(), store.Submissions(), newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}
