package schedule

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/indexman/internal/metrics"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// --- モック定義 ---

// mockSitemapRunner はSitemapRunnerのテスト用モック。
type mockSitemapRunner struct {
	runScheduledFn func(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error)
}

func (m *mockSitemapRunner) RunScheduled(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
	if m.runScheduledFn != nil {
		return m.runScheduledFn(ctx, user, website)
	}
	return &model.SubmissionBatch{SubmittedAt: time.Now()}, nil
}

// countingCollector はスケジュール実行の記録回数を数えるコレクタ。
type countingCollector struct {
	metrics.NopCollector
	scheduledRuns atomic.Int64
}

func (c *countingCollector) RecordScheduledRun() {
	c.scheduledRuns.Add(1)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// seedDueWebsite は実行期限を過ぎたウェブサイトと所有者をストアに登録する。
func seedDueWebsite(t *testing.T, store *repository.MemoryStore, websiteID, domain string) *model.User {
	t.Helper()
	ctx := context.Background()

	user := &model.User{
		ID:       "user-" + websiteID,
		Username: "owner-" + websiteID,
		Email:    websiteID + "@example.com",
		Plan:     model.PlanBasic,
	}
	identity := &model.Identity{
		ID:             "identity-" + websiteID,
		UserID:         user.ID,
		Provider:       "google",
		ProviderUserID: "sub-" + websiteID,
	}
	if err := store.Users().CreateWithIdentity(ctx, user, identity); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	website := &model.Website{
		ID:                 websiteID,
		UserID:             user.ID,
		Domain:             domain,
		SitemapSchedule:    model.ScheduleDaily,
		NextScheduledRunAt: &past,
	}
	if err := store.Websites().CreateWithIntegrations(ctx, website, nil); err != nil {
		t.Fatalf("failed to create website: %v", err)
	}
	return user
}

// --- スケジューラのテスト ---

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	// 0以下の場合はデフォルトの5を使用する
	s := NewScheduler(store.Websites(), store.Users(), &mockSitemapRunner{}, metrics.NopCollector{}, newTestLogger(&buf), 0)
	if s.maxConcurrency != 5 {
		t.Errorf("maxConcurrency = %d, want 5 (default)", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_NoDueWebsites(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	called := false
	runner := &mockSitemapRunner{
		runScheduledFn: func(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
			called = true
			return nil, nil
		},
	}

	s := NewScheduler(store.Websites(), store.Users(), runner, metrics.NopCollector{}, newTestLogger(&buf), 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if called {
		t.Error("runner must not be called when no websites are due")
	}
}

func TestScheduler_RunOnce_RunsDueWebsites(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	seedDueWebsite(t, store, "web-1", "example.com")
	seedDueWebsite(t, store, "web-2", "example.org")

	var mu sync.Mutex
	ranDomains := map[string]bool{}
	runner := &mockSitemapRunner{
		runScheduledFn: func(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
			mu.Lock()
			ranDomains[website.Domain] = true
			mu.Unlock()
			return &model.SubmissionBatch{
				WebsiteID:   website.ID,
				URLs:        []string{"https://" + website.Domain + "/"},
				Results:     map[model.ProviderKind]*model.ProviderResult{},
				SubmittedAt: time.Now(),
			}, nil
		},
	}

	collector := &countingCollector{}
	s := NewScheduler(store.Websites(), store.Users(), runner, collector, newTestLogger(&buf), 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	if !ranDomains["example.com"] || !ranDomains["example.org"] {
		t.Errorf("ran domains = %v, want both websites", ranDomains)
	}
	if got := collector.scheduledRuns.Load(); got != 2 {
		t.Errorf("scheduled runs recorded = %d, want 2", got)
	}
}

func TestScheduler_RunOnce_AdvancesNextRun(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	seedDueWebsite(t, store, "web-1", "example.com")

	s := NewScheduler(store.Websites(), store.Users(), &mockSitemapRunner{}, metrics.NopCollector{}, newTestLogger(&buf), 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	// 取得時に次回実行時刻が進むため、同じウェブサイトが連続で対象にならない
	due, err := store.Websites().ListDueForScheduledRun(context.Background())
	if err != nil {
		t.Fatalf("ListDueForScheduledRun returned error: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due websites after run = %d, want 0", len(due))
	}
}

func TestScheduler_RunOnce_RunnerFailureDoesNotAbortCycle(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	seedDueWebsite(t, store, "web-1", "example.com")
	seedDueWebsite(t, store, "web-2", "example.org")

	var succeeded atomic.Int64
	runner := &mockSitemapRunner{
		runScheduledFn: func(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
			if website.Domain == "example.com" {
				return nil, errors.New("sitemap unreachable")
			}
			succeeded.Add(1)
			return &model.SubmissionBatch{SubmittedAt: time.Now()}, nil
		},
	}

	collector := &countingCollector{}
	s := NewScheduler(store.Websites(), store.Users(), runner, collector, newTestLogger(&buf), 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if succeeded.Load() != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded.Load())
	}
	if got := collector.scheduledRuns.Load(); got != 1 {
		t.Errorf("scheduled runs recorded = %d, want 1", got)
	}
}

func TestScheduler_RunOnce_SkipsOrphanedWebsite(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	// 所有者なしのウェブサイトを直接登録する
	past := time.Now().Add(-time.Hour)
	website := &model.Website{
		ID:                 "web-orphan",
		UserID:             "user-gone",
		Domain:             "orphan.example.com",
		SitemapSchedule:    model.ScheduleDaily,
		NextScheduledRunAt: &past,
	}
	if err := store.Websites().CreateWithIntegrations(context.Background(), website, nil); err != nil {
		t.Fatalf("failed to create website: %v", err)
	}

	called := false
	runner := &mockSitemapRunner{
		runScheduledFn: func(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
			called = true
			return nil, nil
		},
	}

	s := NewScheduler(store.Websites(), store.Users(), runner, metrics.NopCollector{}, newTestLogger(&buf), 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if called {
		t.Error("runner must not be called for a website without an owner")
	}
}

func TestScheduler_Start_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()

	s := NewScheduler(store.Websites(), store.Users(), &mockSitemapRunner{}, metrics.NopCollector{}, newTestLogger(&buf), 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}
