package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/indexman/internal/model"
)

// PostgresSubmissionRepo はPostgreSQLを使用した送信カウンタリポジトリ。
type PostgresSubmissionRepo struct {
	db *sql.DB
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db *sql.DB) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

// AddCounts は指定日のカウンタ行に受理・拒否件数を加算する。
// 行が存在しない場合は作成する。
func (r *PostgresSubmissionRepo) AddCounts(ctx context.Context, websiteID string, kind model.ProviderKind, day time.Time, accepted, rejected int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO url_submissions (id, website_id, provider_kind, submitted_on, accepted_count, rejected_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (website_id, provider_kind, submitted_on)
		 DO UPDATE SET accepted_count = url_submissions.accepted_count + EXCLUDED.accepted_count,
		               rejected_count = url_submissions.rejected_count + EXCLUDED.rejected_count,
		               updated_at = now()`,
		uuid.New().String(), websiteID, kind, day.Format("2006-01-02"), accepted, rejected,
	)
	if err != nil {
		return fmt.Errorf("failed to add submission counts: %w", err)
	}
	return nil
}

// AcceptedCountForDay は指定日にウェブサイトから受理された送信URL数の合計を返す。
func (r *PostgresSubmissionRepo) AcceptedCountForDay(ctx context.Context, websiteID string, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(accepted_count), 0) FROM url_submissions
		 WHERE website_id = $1 AND submitted_on = $2`,
		websiteID, day.Format("2006-01-02"),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count accepted submissions: %w", err)
	}
	return count, nil
}

// StatsByWebsite はウェブサイトの送信統計（本日の受理数と累計受理数）を返す。
func (r *PostgresSubmissionRepo) StatsByWebsite(ctx context.Context, websiteID string, today time.Time) (SubmissionStats, error) {
	var stats SubmissionStats
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(accepted_count) FILTER (WHERE submitted_on = $2), 0),
		        COALESCE(SUM(accepted_count), 0)
		 FROM url_submissions WHERE website_id = $1`,
		websiteID, today.Format("2006-01-02"),
	).Scan(&stats.SubmittedToday, &stats.SubmittedTotal)
	if err == sql.ErrNoRows {
		return SubmissionStats{}, nil
	}
	if err != nil {
		return SubmissionStats{}, fmt.Errorf("failed to get submission stats: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan は指定日より古いカウンタ行を削除し、削除件数を返す。
func (r *PostgresSubmissionRepo) DeleteOlderThan(ctx context.Context, day time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM url_submissions WHERE submitted_on < $1`,
		day.Format("2006-01-02"),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old submissions: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
