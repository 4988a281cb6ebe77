// Package website はウェブサイトの登録、一覧、削除を提供する。
package website

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// domainPattern はドメイン名の構文を検証する。
// ラベルは英数字とハイフン、ハイフンで始まらない・終わらない、TLDは2文字以上。
var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// NormalizeDomain はユーザー入力のドメイン表記を正規化する。
// スキーム、パス、末尾スラッシュを取り除き、小文字化した上で構文を検証する。
func NormalizeDomain(input string) (string, error) {
	domain := strings.TrimSpace(strings.ToLower(input))
	if domain == "" {
		return "", model.NewInvalidDomainError("ドメインが空です")
	}

	if strings.Contains(domain, "://") {
		parsed, err := url.Parse(domain)
		if err != nil || parsed.Host == "" {
			return "", model.NewInvalidDomainError("URLとして解釈できません")
		}
		domain = parsed.Host
	}

	// パス付き入力（example.com/path）からホスト部だけを残す
	if idx := strings.IndexByte(domain, '/'); idx >= 0 {
		domain = domain[:idx]
	}
	domain = strings.TrimSuffix(domain, ".")

	// ポート番号は受け付けない
	if strings.Contains(domain, ":") {
		return "", model.NewInvalidDomainError("ポート番号は指定できません")
	}

	if !domainPattern.MatchString(domain) {
		return "", model.NewInvalidDomainError(fmt.Sprintf("%q はドメイン名として不正です", domain))
	}
	return domain, nil
}

// Info はウェブサイトと接続状態、送信統計をまとめたビュー。
type Info struct {
	Website      *model.Website
	Integrations []*model.ProviderIntegration
	Stats        repository.SubmissionStats
}

// Service はウェブサイト管理の操作を提供する。
type Service struct {
	websiteRepo     repository.WebsiteRepository
	integrationRepo repository.IntegrationRepository
	submissionRepo  repository.SubmissionRepository
	logger          *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	websiteRepo repository.WebsiteRepository,
	integrationRepo repository.IntegrationRepository,
	submissionRepo repository.SubmissionRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		websiteRepo:     websiteRepo,
		integrationRepo: integrationRepo,
		submissionRepo:  submissionRepo,
		logger:          logger,
	}
}

// Create はウェブサイトを登録する。
// ドメインは正規化され、同一ユーザー内での重複は拒否される。
// プロバイダごとの接続行はdisconnected状態で同時に作成される。
func (s *Service) Create(ctx context.Context, user *model.User, rawDomain string) (*model.Website, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}

	existing, err := s.websiteRepo.FindByUserAndDomain(ctx, user.ID, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate website: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateWebsiteError(domain)
	}

	now := time.Now()
	website := &model.Website{
		ID:              uuid.New().String(),
		UserID:          user.ID,
		Domain:          domain,
		SitemapSchedule: model.ScheduleManual,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	integrations := []*model.ProviderIntegration{
		{ID: uuid.New().String(), WebsiteID: website.ID, ProviderKind: model.ProviderGoogle, Status: model.StatusDisconnected, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New().String(), WebsiteID: website.ID, ProviderKind: model.ProviderBing, Status: model.StatusDisconnected, CreatedAt: now, UpdatedAt: now},
	}

	if err := s.websiteRepo.CreateWithIntegrations(ctx, website, integrations); err != nil {
		return nil, fmt.Errorf("failed to create website: %w", err)
	}

	s.logger.Info("website created",
		slog.String("website_id", website.ID),
		slog.String("user_id", user.ID),
		slog.String("domain", domain))

	return website, nil
}

// List はユーザーのウェブサイト一覧を接続状態・送信統計付きで返す。
func (s *Service) List(ctx context.Context, user *model.User) ([]*Info, error) {
	websites, err := s.websiteRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}

	infos := make([]*Info, 0, len(websites))
	for _, w := range websites {
		info, err := s.buildInfo(ctx, w)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Get は指定IDのウェブサイトを接続状態・送信統計付きで返す。
func (s *Service) Get(ctx context.Context, user *model.User, websiteID string) (*Info, error) {
	website, err := s.websiteRepo.FindByIDForUser(ctx, websiteID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	if website == nil {
		return nil, model.NewWebsiteNotFoundError()
	}
	return s.buildInfo(ctx, website)
}

// Delete はウェブサイトを削除する。接続行と送信カウンタもCASCADE削除される。
func (s *Service) Delete(ctx context.Context, user *model.User, websiteID string) error {
	website, err := s.websiteRepo.FindByIDForUser(ctx, websiteID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to find website: %w", err)
	}
	if website == nil {
		return model.NewWebsiteNotFoundError()
	}

	if err := s.websiteRepo.Delete(ctx, website.ID); err != nil {
		return fmt.Errorf("failed to delete website: %w", err)
	}

	s.logger.Info("website deleted",
		slog.String("website_id", website.ID),
		slog.String("user_id", user.ID),
		slog.String("domain", website.Domain))

	return nil
}

func (s *Service) buildInfo(ctx context.Context, website *model.Website) (*Info, error) {
	integrations, err := s.integrationRepo.ListByWebsiteID(ctx, website.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	stats, err := s.submissionRepo.StatsByWebsite(ctx, website.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to load submission stats: %w", err)
	}
	return &Info{Website: website, Integrations: integrations, Stats: stats}, nil
}
