// Package schedule はサイトマップ送信のスケジュール実行と接続の再検証を行う
// バックグラウンドワーカーを提供する。
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/indexman/internal/metrics"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// SitemapRunner はスケジュール実行1件分のサイトマップ送信インターフェース。
type SitemapRunner interface {
	// RunScheduled はサイトマップを取得し、接続済みプロバイダへ全URLを送信する。
	RunScheduled(ctx context.Context, user *model.User, website *model.Website) (*model.SubmissionBatch, error)
}

// Scheduler はスケジュール実行対象ウェブサイトの取得と並列制御を行う。
// ティッカーで実行対象を取得し、semaphoreパターンで最大並列数を
// 制御しながらサイトマップ送信を実行する。
type Scheduler struct {
	websiteRepo    repository.WebsiteRepository
	userRepo       repository.UserRepository
	runner         SitemapRunner
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	websiteRepo repository.WebsiteRepository,
	userRepo repository.UserRepository,
	runner SitemapRunner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		websiteRepo:    websiteRepo,
		userRepo:       userRepo,
		runner:         runner,
		collector:      collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("サイトマップスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スケジュールサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("サイトマップスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スケジュールサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行対象ウェブサイトを1回取得し、並列でサイトマップ送信を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 実行対象ウェブサイトを取得（FOR UPDATE SKIP LOCKED）
	websites, err := s.websiteRepo.ListDueForScheduledRun(ctx)
	if err != nil {
		return err
	}

	if len(websites) == 0 {
		s.logger.Info("スケジュール実行対象のウェブサイトはありません")
		return nil
	}

	s.logger.Info("スケジュールサイクルを開始します",
		slog.Int("website_count", len(websites)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, website := range websites {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(w *model.Website) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.runWebsite(ctx, w); err != nil {
				s.logger.Error("スケジュール実行に失敗しました",
					slog.String("website_id", w.ID),
					slog.String("domain", w.Domain),
					slog.String("error", err.Error()),
				)
			}
		}(website)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("スケジュールサイクルが完了しました",
		slog.Int("website_count", len(websites)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// runWebsite は1件のウェブサイトに対してサイトマップ送信を実行する。
// 次回実行時刻はListDueForScheduledRunが取得時に進めているため、
// ここでは更新しない。
func (s *Scheduler) runWebsite(ctx context.Context, website *model.Website) error {
	owner, err := s.userRepo.FindByID(ctx, website.UserID)
	if err != nil {
		return err
	}
	if owner == nil {
		s.logger.Warn("所有者が存在しないウェブサイトをスキップします",
			slog.String("website_id", website.ID),
		)
		return nil
	}

	batch, err := s.runner.RunScheduled(ctx, owner, website)
	if err != nil {
		return err
	}

	s.collector.RecordScheduledRun()
	s.logger.Info("スケジュール送信が完了しました",
		slog.String("website_id", website.ID),
		slog.String("domain", website.Domain),
		slog.Int("url_count", len(batch.URLs)),
		slog.Int("accepted", batch.TotalAccepted()),
	)
	return nil
}
