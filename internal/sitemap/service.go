package sitemap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/indexman/internal/indexer"
	"github.com/hitoshi/indexman/internal/metrics"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// ServiceConfig はサイトマップ走査の制限値。
type ServiceConfig struct {
	// MaxDepth はsitemapindexを辿る最大深さ。起点のサイトマップが深さ1。
	MaxDepth int
	// MaxURLs は1ウェブサイトあたり収集する最大URL数。超過分は切り捨てる。
	MaxURLs int
}

// Service はサイトマップの発見、取得、永続化、送信をまとめる。
type Service struct {
	websiteRepo repository.WebsiteRepository
	fetcher     *Fetcher
	detector    *Detector
	dispatcher  *indexer.Dispatcher
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	websiteRepo repository.WebsiteRepository,
	fetcher *Fetcher,
	detector *Detector,
	dispatcher *indexer.Dispatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		websiteRepo: websiteRepo,
		fetcher:     fetcher,
		detector:    detector,
		dispatcher:  dispatcher,
		collector:   collector,
		logger:      logger,
		config:      config,
	}
}

// FetchSitemap はウェブサイトのサイトマップを取得してURL数を永続化する。
// sitemap_urlが未設定の場合は発見を試みる。
// 取得に成功するとsitemap_urlとsitemap_urls_countが更新される。
func (s *Service) FetchSitemap(ctx context.Context, user *model.User, websiteID string) (*model.Website, error) {
	website, err := s.findWebsite(ctx, user, websiteID)
	if err != nil {
		return nil, err
	}

	sitemapURL, urls, err := s.collect(ctx, website)
	if err != nil {
		s.collector.RecordSitemapFetch(false)
		return nil, err
	}
	s.collector.RecordSitemapFetch(true)
	s.collector.RecordSitemapURLs(len(urls))

	if err := s.websiteRepo.UpdateSitemap(ctx, website.ID, sitemapURL, len(urls)); err != nil {
		return nil, fmt.Errorf("failed to update sitemap: %w", err)
	}

	website.SitemapURL = sitemapURL
	website.SitemapURLsCount = len(urls)

	s.logger.Info("sitemap fetched",
		slog.String("website_id", website.ID),
		slog.String("sitemap_url", sitemapURL),
		slog.Int("urls", len(urls)))

	return website, nil
}

// ListSitemapURLs はサイトマップを取得し、含まれるURL一覧を返す。
// 永続化は行わないライブ取得。
func (s *Service) ListSitemapURLs(ctx context.Context, user *model.User, websiteID string) ([]string, error) {
	website, err := s.findWebsite(ctx, user, websiteID)
	if err != nil {
		return nil, err
	}

	_, urls, err := s.collect(ctx, website)
	if err != nil {
		s.collector.RecordSitemapFetch(false)
		return nil, err
	}
	s.collector.RecordSitemapFetch(true)
	return urls, nil
}

// SubmitSitemapURLs はサイトマップのURLを先頭からlimit件、接続済みプロバイダへ送信する。
// limitが0以下の場合は全件を対象とする。
func (s *Service) SubmitSitemapURLs(ctx context.Context, user *model.User, websiteID string, limit int, targets []model.ProviderKind) (*model.SubmissionBatch, error) {
	website, err := s.findWebsite(ctx, user, websiteID)
	if err != nil {
		return nil, err
	}

	_, urls, err := s.collect(ctx, website)
	if err != nil {
		s.collector.RecordSitemapFetch(false)
		return nil, err
	}
	s.collector.RecordSitemapFetch(true)

	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	return s.dispatcher.Dispatch(ctx, user, website, urls, targets)
}

// UpdateSchedule はサイトマップの自動実行スケジュールを変更する。
// manual以外を設定すると次回実行時刻が現在時刻+間隔に設定される。
func (s *Service) UpdateSchedule(ctx context.Context, user *model.User, websiteID string, schedule model.SitemapSchedule) (*model.Website, error) {
	if !schedule.IsValid() {
		return nil, model.NewInvalidScheduleError(string(schedule))
	}

	website, err := s.findWebsite(ctx, user, websiteID)
	if err != nil {
		return nil, err
	}

	var nextRunAt *time.Time
	if interval := schedule.Interval(); interval > 0 {
		next := time.Now().Add(interval)
		nextRunAt = &next
	}

	if err := s.websiteRepo.UpdateSchedule(ctx, website.ID, schedule, nextRunAt); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	website.SitemapSchedule = schedule
	website.NextScheduledRunAt = nextRunAt
	return website, nil
}

// RunScheduled はスケジュール実行1件分の処理を行う。
// サイトマップを取得して接続済みプロバイダへ全URLを送信する。
// ワーカーから呼ばれるため所有者チェックは行わない。
func (s *Service) RunScheduled(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error) {
	sitemapURL, urls, err := s.collect(ctx, website)
	if err != nil {
		s.collector.RecordSitemapFetch(false)
		return nil, err
	}
	s.collector.RecordSitemapFetch(true)
	s.collector.RecordSitemapURLs(len(urls))

	if err := s.websiteRepo.UpdateSitemap(ctx, website.ID, sitemapURL, len(urls)); err != nil {
		return nil, fmt.Errorf("failed to update sitemap: %w", err)
	}

	return s.dispatcher.Dispatch(ctx, user, website, urls, nil)
}

// findWebsite は所有者チェック付きでウェブサイトを取得する。
func (s *Service) findWebsite(ctx context.Context, user *model.User, websiteID string) (*model.Website, error) {
	website, err := s.websiteRepo.FindByIDForUser(ctx, websiteID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	if website == nil {
		return nil, model.NewWebsiteNotFoundError()
	}
	return website, nil
}

// collect はサイトマップURLの解決とURL収集をまとめて行う。
// 戻り値は実際に使用したサイトマップURLと収集URL。
func (s *Service) collect(ctx context.Context, website *model.Website) (string, []string, error) {
	sitemapURL := website.SitemapURL
	if sitemapURL == "" {
		discovered, err := s.detector.Discover(ctx, website.Domain)
		if err != nil {
			return "", nil, err
		}
		sitemapURL = discovered
	}

	urls, err := s.collectURLs(ctx, sitemapURL)
	if err != nil {
		return "", nil, err
	}
	return sitemapURL, urls, nil
}

// collectURLs はサイトマップを再帰的に辿ってURLを収集する。
// sitemapindexはMaxDepthまで辿り、URL総数はMaxURLsで打ち切る。
// 同一サイトマップへの循環参照は一度しか辿らない。
func (s *Service) collectURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})

	var walk func(loc string, depth int) error
	walk = func(loc string, depth int) error {
		if depth > s.config.MaxDepth {
			return nil
		}
		if _, ok := visited[loc]; ok {
			return nil
		}
		visited[loc] = struct{}{}

		body, err := s.fetcher.Fetch(ctx, loc)
		if err != nil {
			// 子サイトマップの取得失敗は全体を失敗させず、残りを続行する
			if depth > 1 {
				s.logger.Warn("child sitemap fetch failed",
					slog.String("sitemap_url", loc),
					slog.String("error", err.Error()))
				return nil
			}
			return err
		}

		doc, err := Parse(body)
		if err != nil {
			if depth > 1 {
				s.logger.Warn("child sitemap parse failed",
					slog.String("sitemap_url", loc),
					slog.String("error", err.Error()))
				return nil
			}
			return err
		}

		if doc.IsIndex() {
			for _, child := range doc.ChildSitemaps {
				if len(urls) >= s.config.MaxURLs {
					return nil
				}
				if err := walk(child, depth+1); err != nil {
					return err
				}
			}
			return nil
		}

		for _, u := range doc.URLs {
			if len(urls) >= s.config.MaxURLs {
				return nil
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		return nil
	}

	if err := walk(sitemapURL, 1); err != nil {
		return nil, err
	}
	return urls, nil
}
