package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/indexman/internal/model"
)

// MemoryStore は全リポジトリのインメモリ実装をまとめて保持する。
// データベース未設定の環境（ローカル開発・テスト）向けのフォールバックで、
// 起動時の設定で明示的に選択される。プロセス終了でデータは消える。
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	identities   map[string]*model.Identity
	sessions     map[string]*model.Session
	websites     map[string]*model.Website
	integrations map[string]*model.ProviderIntegration
	counters     map[string]*submissionCounter
}

type submissionCounter struct {
	websiteID string
	kind      model.ProviderKind
	day       string
	accepted  int
	rejected  int
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*model.User),
		identities:   make(map[string]*model.Identity),
		sessions:     make(map[string]*model.Session),
		websites:     make(map[string]*model.Website),
		integrations: make(map[string]*model.ProviderIntegration),
		counters:     make(map[string]*submissionCounter),
	}
}

// Users はUserRepository実装を返す。
func (s *MemoryStore) Users() UserRepository { return (*memoryUserRepo)(s) }

// Identities はIdentityRepository実装を返す。
func (s *MemoryStore) Identities() IdentityRepository { return (*memoryIdentityRepo)(s) }

// Sessions はSessionRepository実装を返す。
func (s *MemoryStore) Sessions() SessionRepository { return (*memorySessionRepo)(s) }

// Websites はWebsiteRepository実装を返す。
func (s *MemoryStore) Websites() WebsiteRepository { return (*memoryWebsiteRepo)(s) }

// Integrations はIntegrationRepository実装を返す。
func (s *MemoryStore) Integrations() IntegrationRepository { return (*memoryIntegrationRepo)(s) }

// Submissions はSubmissionRepository実装を返す。
func (s *MemoryStore) Submissions() SubmissionRepository { return (*memorySubmissionRepo)(s) }

type memoryUserRepo MemoryStore

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return fmt.Errorf("user already exists: %s", user.Email)
		}
	}
	u := *user
	in := *identity
	r.users[u.ID] = &u
	r.identities[in.ID] = &in
	return nil
}

func (r *memoryUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	delete(r.users, id)
	for iid, in := range r.identities {
		if in.UserID == id {
			delete(r.identities, iid)
		}
	}
	for sid, sess := range r.sessions {
		if sess.UserID == id {
			delete(r.sessions, sid)
		}
	}
	for wid, w := range r.websites {
		if w.UserID == id {
			(*MemoryStore)(r).deleteWebsiteLocked(wid)
		}
	}
	return nil
}

type memoryIdentityRepo MemoryStore

func (r *memoryIdentityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.identities {
		if in.Provider == provider && in.ProviderUserID == providerUserID {
			copied := *in
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.identities {
		if in.Provider == identity.Provider && in.ProviderUserID == identity.ProviderUserID {
			return fmt.Errorf("identity already exists: %s/%s", identity.Provider, identity.ProviderUserID)
		}
	}
	copied := *identity
	r.identities[copied.ID] = &copied
	return nil
}

type memorySessionRepo MemoryStore

func (r *memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *session
	r.sessions[s.ID] = &s
	return nil
}

func (r *memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok && s.ExpiresAt.After(time.Now()) {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (r *memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var deleted int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

type memoryWebsiteRepo MemoryStore

func (r *memoryWebsiteRepo) FindByIDForUser(_ context.Context, id, userID string) (*model.Website, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.websites[id]; ok && w.UserID == userID {
		copied := *w
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryWebsiteRepo) FindByUserAndDomain(_ context.Context, userID, domain string) (*model.Website, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.websites {
		if w.UserID == userID && strings.EqualFold(w.Domain, domain) {
			copied := *w
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryWebsiteRepo) ListByUserID(_ context.Context, userID string) ([]*model.Website, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var websites []*model.Website
	for _, w := range r.websites {
		if w.UserID == userID {
			copied := *w
			websites = append(websites, &copied)
		}
	}
	sortWebsitesByCreatedAt(websites)
	return websites, nil
}

func (r *memoryWebsiteRepo) CreateWithIntegrations(_ context.Context, website *model.Website, integrations []*model.ProviderIntegration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.websites {
		if w.UserID == website.UserID && strings.EqualFold(w.Domain, website.Domain) {
			return fmt.Errorf("website already exists: %s", website.Domain)
		}
	}
	w := *website
	r.websites[w.ID] = &w
	for _, in := range integrations {
		copied := *in
		// IDはマップのキーになるため空のままでは登録できない
		if copied.ID == "" {
			copied.ID = uuid.New().String()
			in.ID = copied.ID
		}
		if _, exists := r.integrations[copied.ID]; exists {
			return fmt.Errorf("integration already exists: %s", copied.ID)
		}
		r.integrations[copied.ID] = &copied
	}
	return nil
}

func (r *memoryWebsiteRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.websites[id]; !ok {
		return fmt.Errorf("website not found: %s", id)
	}
	(*MemoryStore)(r).deleteWebsiteLocked(id)
	return nil
}

func (r *memoryWebsiteRepo) UpdateSitemap(_ context.Context, id, sitemapURL string, urlsCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.websites[id]
	if !ok {
		return fmt.Errorf("website not found: %s", id)
	}
	w.SitemapURL = sitemapURL
	w.SitemapURLsCount = urlsCount
	w.UpdatedAt = time.Now()
	return nil
}

func (r *memoryWebsiteRepo) UpdateSchedule(_ context.Context, id string, schedule model.SitemapSchedule, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.websites[id]
	if !ok {
		return fmt.Errorf("website not found: %s", id)
	}
	w.SitemapSchedule = schedule
	w.NextScheduledRunAt = nextRunAt
	w.UpdatedAt = time.Now()
	return nil
}

func (r *memoryWebsiteRepo) TouchLastSubmission(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.websites[id]
	if !ok {
		return fmt.Errorf("website not found: %s", id)
	}
	w.LastSubmissionDate = &at
	w.UpdatedAt = time.Now()
	return nil
}

func (r *memoryWebsiteRepo) ListDueForScheduledRun(_ context.Context) ([]*model.Website, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var due []*model.Website
	for _, w := range r.websites {
		if w.SitemapSchedule == model.ScheduleManual || w.NextScheduledRunAt == nil {
			continue
		}
		if w.NextScheduledRunAt.After(now) {
			continue
		}
		copied := *w
		due = append(due, &copied)

		interval := w.SitemapSchedule.Interval()
		next := w.NextScheduledRunAt.Add(interval)
		for !next.After(now) {
			next = next.Add(interval)
		}
		w.NextScheduledRunAt = &next
	}
	sortWebsitesByCreatedAt(due)
	return due, nil
}

func (s *MemoryStore) deleteWebsiteLocked(id string) {
	delete(s.websites, id)
	for iid, in := range s.integrations {
		if in.WebsiteID == id {
			delete(s.integrations, iid)
		}
	}
	for key, c := range s.counters {
		if c.websiteID == id {
			delete(s.counters, key)
		}
	}
}

func sortWebsitesByCreatedAt(websites []*model.Website) {
	sort.Slice(websites, func(i, j int) bool {
		return websites[i].CreatedAt.Before(websites[j].CreatedAt)
	})
}

type memoryIntegrationRepo MemoryStore

func (r *memoryIntegrationRepo) FindByWebsiteAndKind(_ context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.integrations {
		if in.WebsiteID == websiteID && in.ProviderKind == kind {
			copied := *in
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryIntegrationRepo) ListByWebsiteID(_ context.Context, websiteID string) ([]*model.ProviderIntegration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var integrations []*model.ProviderIntegration
	for _, in := range r.integrations {
		if in.WebsiteID == websiteID {
			copied := *in
			integrations = append(integrations, &copied)
		}
	}
	// provider_kind順で安定させる
	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].ProviderKind < integrations[j].ProviderKind
	})
	return integrations, nil
}

func (r *memoryIntegrationRepo) UpdateState(_ context.Context, integration *model.ProviderIntegration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.integrations[integration.ID]
	if !ok {
		return fmt.Errorf("integration not found: %s", integration.ID)
	}
	in.Status = integration.Status
	in.Artifact = integration.Artifact
	in.IdentityEmail = integration.IdentityEmail
	in.LastVerifiedAt = integration.LastVerifiedAt
	in.ConsecutiveFailures = integration.ConsecutiveFailures
	in.UpdatedAt = time.Now()
	return nil
}

func (r *memoryIntegrationRepo) ListConnectedByKind(_ context.Context, kind model.ProviderKind) ([]IntegrationWithDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []IntegrationWithDomain
	for _, in := range r.integrations {
		if in.ProviderKind != kind || in.Status != model.StatusConnected {
			continue
		}
		w, ok := r.websites[in.WebsiteID]
		if !ok {
			continue
		}
		results = append(results, IntegrationWithDomain{ProviderIntegration: *in, Domain: w.Domain})
	}
	return results, nil
}

type memorySubmissionRepo MemoryStore

func counterKey(websiteID string, kind model.ProviderKind, day string) string {
	return websiteID + "/" + string(kind) + "/" + day
}

func (r *memorySubmissionRepo) AddCounts(_ context.Context, websiteID string, kind model.ProviderKind, day time.Time, accepted, rejected int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := day.Format("2006-01-02")
	key := counterKey(websiteID, kind, d)
	c, ok := r.counters[key]
	if !ok {
		c = &submissionCounter{websiteID: websiteID, kind: kind, day: d}
		r.counters[key] = c
	}
	c.accepted += accepted
	c.rejected += rejected
	return nil
}

func (r *memorySubmissionRepo) AcceptedCountForDay(_ context.Context, websiteID string, day time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := day.Format("2006-01-02")
	var total int
	for _, c := range r.counters {
		if c.websiteID == websiteID && c.day == d {
			total += c.accepted
		}
	}
	return total, nil
}

func (r *memorySubmissionRepo) StatsByWebsite(_ context.Context, websiteID string, today time.Time) (SubmissionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := today.Format("2006-01-02")
	var stats SubmissionStats
	for _, c := range r.counters {
		if c.websiteID != websiteID {
			continue
		}
		stats.SubmittedTotal += c.accepted
		if c.day == d {
			stats.SubmittedToday += c.accepted
		}
	}
	return stats, nil
}

func (r *memorySubmissionRepo) DeleteOlderThan(_ context.Context, day time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := day.Format("2006-01-02")
	var deleted int64
	for key, c := range r.counters {
		if c.day < d {
			delete(r.counters, key)
			deleted++
		}
	}
	return deleted, nil
}
