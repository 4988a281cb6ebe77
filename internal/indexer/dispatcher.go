package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/indexman/internal/metrics"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// DispatcherConfig はディスパッチャの設定。
type DispatcherConfig struct {
	// MaxURLsPerRequest は1回の送信操作で受け付ける最大URL数。
	MaxURLsPerRequest int
}

// Dispatcher はURL送信を接続済みプロバイダへ振り分ける。
// プロバイダごとの送信は並行して行われ、一方の失敗が他方を妨げない。
// 受理件数は日次カウンタに記録され、プランごとの日次上限の判定に使われる。
type Dispatcher struct {
	integrationRepo repository.IntegrationRepository
	websiteRepo     repository.WebsiteRepository
	submissionRepo  repository.SubmissionRepository
	google          *GoogleClient
	indexNow        *IndexNowClient
	collector       metrics.MetricsCollector
	config          DispatcherConfig
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	integrationRepo repository.IntegrationRepository,
	websiteRepo repository.WebsiteRepository,
	submissionRepo repository.SubmissionRepository,
	google *GoogleClient,
	indexNow *IndexNowClient,
	collector metrics.MetricsCollector,
	config DispatcherConfig,
) *Dispatcher {
	return &Dispatcher{
		integrationRepo: integrationRepo,
		websiteRepo:     websiteRepo,
		submissionRepo:  submissionRepo,
		google:          google,
		indexNow:        indexNow,
		collector:       collector,
		config:          config,
	}
}

// Dispatch はURL群を指定プロバイダへ送信する。
// targetsが空の場合は全プロバイダが対象になる。
// 未接続のプロバイダはエラーにせずskipped-not-connectedとして結果に含める。
// 無効なURLは個別に拒否し、残りの有効なURLだけを送信する。
func (d *Dispatcher) Dispatch(ctx context.Context, user *model.User, website *model.Website, rawURLs []string, targets []model.ProviderKind) (*model.SubmissionBatch, error) {
	batch := &model.SubmissionBatch{
		WebsiteID:   website.ID,
		Targets:     targets,
		Results:     make(map[model.ProviderKind]*model.ProviderResult),
		SubmittedAt: time.Now(),
	}

	// 1. URLの正規化と検証
	urls, invalid := d.validateURLs(website, rawURLs)
	batch.URLs = urls
	batch.InvalidURLs = invalid
	if len(urls) == 0 && len(invalid) == 0 {
		return nil, model.NewEmptySubmissionError()
	}
	if len(urls) > d.config.MaxURLsPerRequest {
		return nil, model.NewInvalidURLError(
			fmt.Sprintf("1回の送信で受け付けられるのは最大%d件です", d.config.MaxURLsPerRequest))
	}

	// 2. プランの日次上限チェック
	if len(urls) > 0 {
		limit := user.Plan.DailySubmissionLimit()
		used, err := d.submissionRepo.AcceptedCountForDay(ctx, website.ID, batch.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to count today's submissions: %w", err)
		}
		if used+len(urls) > limit {
			return nil, model.NewSubmissionLimitError(limit)
		}
	}

	if len(targets) == 0 {
		targets = []model.ProviderKind{model.ProviderGoogle, model.ProviderBing}
		batch.Targets = targets
	}

	// 3. プロバイダごとに並行送信
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, kind := range targets {
		if !kind.IsValid() {
			continue
		}
		wg.Add(1)
		go func(kind model.ProviderKind) {
			defer wg.Done()
			result := d.submitToProvider(ctx, website, kind, urls)
			mu.Lock()
			batch.Results[kind] = result
			mu.Unlock()
		}(kind)
	}
	wg.Wait()

	// 4. 日次カウンタと最終送信日時の記録
	for kind, result := range batch.Results {
		if result.Accepted == 0 && result.Rejected == 0 {
			continue
		}
		if err := d.submissionRepo.AddCounts(ctx, website.ID, kind, batch.SubmittedAt, result.Accepted, result.Rejected); err != nil {
			slog.Error("failed to record submission counts",
				slog.String("website_id", website.ID),
				slog.String("provider", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	if batch.TotalAccepted() > 0 {
		if err := d.websiteRepo.TouchLastSubmission(ctx, website.ID, batch.SubmittedAt); err != nil {
			slog.Error("failed to touch last submission date",
				slog.String("website_id", website.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return batch, nil
}

// submitToProvider は1プロバイダへの送信を実行し、結果を集計する。
func (d *Dispatcher) submitToProvider(ctx context.Context, website *model.Website, kind model.ProviderKind, urls []string) *model.ProviderResult {
	result := &model.ProviderResult{Provider: kind}

	in, err := d.integrationRepo.FindByWebsiteAndKind(ctx, website.ID, kind)
	if err != nil {
		slog.Error("failed to load integration",
			slog.String("website_id", website.ID),
			slog.String("provider", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	if in == nil || in.Status != model.StatusConnected {
		for _, u := range urls {
			result.URLs = append(result.URLs, model.URLResult{URL: u, Outcome: model.OutcomeSkippedNotConnected})
		}
		result.Skipped = len(urls)
		d.collector.RecordSubmission(string(kind), 0, 0, result.Skipped)
		return result
	}

	start := time.Now()
	var urlResults []model.URLResult
	switch kind {
	case model.ProviderGoogle:
		urlResults, err = d.google.SubmitURLs(ctx, in.Artifact, urls)
	case model.ProviderBing:
		urlResults, err = d.indexNow.SubmitURLs(ctx, website.Domain, string(in.Artifact), urls)
	}
	d.collector.RecordSubmissionLatency(string(kind), time.Since(start))

	if err != nil {
		// プロバイダ全体の失敗: 全URLを拒否として記録
		reason := err.Error()
		for _, u := range urls {
			result.URLs = append(result.URLs, model.URLResult{URL: u, Outcome: model.OutcomeRejected, Reason: reason})
		}
		result.Rejected = len(urls)
		d.collector.RecordSubmission(string(kind), 0, result.Rejected, 0)
		slog.Warn("provider submission failed",
			slog.String("website_id", website.ID),
			slog.String("provider", string(kind)),
			slog.String("error", reason),
		)
		return result
	}

	result.URLs = urlResults
	for _, r := range urlResults {
		switch r.Outcome {
		case model.OutcomeAccepted:
			result.Accepted++
		case model.OutcomeRejected:
			result.Rejected++
		default:
			result.Skipped++
		}
	}
	d.collector.RecordSubmission(string(kind), result.Accepted, result.Rejected, result.Skipped)

	slog.Info("provider submission completed",
		slog.String("website_id", website.ID),
		slog.String("provider", string(kind)),
		slog.Int("accepted", result.Accepted),
		slog.Int("rejected", result.Rejected),
	)
	return result
}

// validateURLs はURLを正規化・重複除去し、構文的に無効なものを分離する。
// 有効条件: http/httpsスキーム、ホストがウェブサイトのドメインに一致すること。
func (d *Dispatcher) validateURLs(website *model.Website, rawURLs []string) (valid []string, invalid []model.URLResult) {
	trimmed := make([]string, 0, len(rawURLs))
	for _, u := range rawURLs {
		u = strings.TrimSpace(u)
		if u != "" {
			trimmed = append(trimmed, u)
		}
	}
	domainHost := hostOf(website.Domain)

	for _, u := range model.DedupeURLs(trimmed) {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			invalid = append(invalid, model.URLResult{
				URL:     u,
				Outcome: model.OutcomeRejected,
				Reason:  "URLの形式が不正です",
			})
			continue
		}
		if !strings.EqualFold(parsed.Hostname(), domainHost) {
			invalid = append(invalid, model.URLResult{
				URL:     u,
				Outcome: model.OutcomeRejected,
				Reason:  "ウェブサイトのドメインに属さないURLです",
			})
			continue
		}
		valid = append(valid, u)
	}
	return valid, invalid
}
