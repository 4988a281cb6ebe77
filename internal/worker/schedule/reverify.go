package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// IntegrationReverifier は接続済みプロバイダ接続の再検証インターフェース。
type IntegrationReverifier interface {
	// Reverify は1件の接続を再検証し、失敗時はpendingへ退行させる。
	Reverify(ctx context.Context, item repository.IntegrationWithDomain) error
}

// ReverifyJob は接続済みプロバイダ接続を定期的に再検証するジョブ。
// Bingのキーファイル設置とGoogleの認証情報の有効性を確認し、
// 失敗した接続をpendingへ退行させる。
type ReverifyJob struct {
	integrationRepo repository.IntegrationRepository
	reverifier      IntegrationReverifier
	logger          *slog.Logger
}

// NewReverifyJob は新しいReverifyJobを生成する。
func NewReverifyJob(
	integrationRepo repository.IntegrationRepository,
	reverifier IntegrationReverifier,
	logger *slog.Logger,
) *ReverifyJob {
	return &ReverifyJob{
		integrationRepo: integrationRepo,
		reverifier:      reverifier,
		logger:          logger,
	}
}

// Start はティッカーで再検証ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *ReverifyJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("再検証ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("再検証ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("再検証サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全プロバイダのconnected状態の接続を1回再検証する。
// 1件の失敗は記録して続行する。
func (j *ReverifyJob) RunOnce(ctx context.Context) error {
	start := time.Now()
	total := 0

	for _, kind := range []model.ProviderKind{model.ProviderGoogle, model.ProviderBing} {
		items, err := j.integrationRepo.ListConnectedByKind(ctx, kind)
		if err != nil {
			return err
		}

		for _, item := range items {
			if err := j.reverifier.Reverify(ctx, item); err != nil {
				j.logger.Error("接続の再検証に失敗しました",
					slog.String("website_id", item.WebsiteID),
					slog.String("provider", string(item.ProviderKind)),
					slog.String("error", err.Error()),
				)
				continue
			}
			total++
		}
	}

	duration := time.Since(start)
	j.logger.Info("再検証サイクルが完了しました",
		slog.Int("verified_count", total),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
