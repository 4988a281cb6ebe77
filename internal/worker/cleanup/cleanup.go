// Package cleanup は期限切れセッションと古い送信カウンタの自動削除ジョブを提供する。
// 日次バッチとして設計されており、冪等な削除処理を保証する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/indexman/internal/repository"
)

// CleanupJob は期限切れセッションと保持期間を超過した送信カウンタの削除ジョブ。
type CleanupJob struct {
	sessionRepo    repository.SessionRepository
	submissionRepo repository.SubmissionRepository
	logger         *slog.Logger
	RetentionDays  int // 送信カウンタの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	submissionRepo repository.SubmissionRepository,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo:    sessionRepo,
		submissionRepo: submissionRepo,
		logger:         logger,
		RetentionDays:  90,
	}
}

// Run は期限切れセッションと古い送信カウンタを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	expiredSessions, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -j.RetentionDays)
	oldCounters, err := j.submissionRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("送信カウンタのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("送信カウンタのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", expiredSessions),
		slog.Int64("deleted_counters", oldCounters),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はティッカーでクリーンアップジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
