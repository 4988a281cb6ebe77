package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/indexman/internal/model"
)

// PostgresWebsiteRepo はPostgreSQLを使用したウェブサイトリポジトリ。
type PostgresWebsiteRepo struct {
	db *sql.DB
}

// NewPostgresWebsiteRepo はPostgresWebsiteRepoを生成する。
func NewPostgresWebsiteRepo(db *sql.DB) *PostgresWebsiteRepo {
	return &PostgresWebsiteRepo{db: db}
}

const websiteColumns = `id, user_id, domain, sitemap_url, sitemap_urls_count, sitemap_schedule,
	next_scheduled_run_at, last_submission_date, created_at, updated_at`

func scanWebsite(row interface{ Scan(...any) error }) (*model.Website, error) {
	w := &model.Website{}
	err := row.Scan(&w.ID, &w.UserID, &w.Domain, &w.SitemapURL, &w.SitemapURLsCount, &w.SitemapSchedule,
		&w.NextScheduledRunAt, &w.LastSubmissionDate, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// FindByIDForUser は指定IDのウェブサイトを所有者チェック付きで取得する。
// 存在しない、または所有者が異なる場合はnilを返す。
func (r *PostgresWebsiteRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Website, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+websiteColumns+` FROM websites WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	w, err := scanWebsite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	return w, nil
}

// FindByUserAndDomain はユーザーIDとドメインでウェブサイトを検索する。見つからない場合はnilを返す。
func (r *PostgresWebsiteRepo) FindByUserAndDomain(ctx context.Context, userID, domain string) (*model.Website, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+websiteColumns+` FROM websites WHERE user_id = $1 AND lower(domain) = lower($2)`,
		userID, domain,
	)
	w, err := scanWebsite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find website by domain: %w", err)
	}
	return w, nil
}

// ListByUserID はユーザーのウェブサイト一覧を作成日時順で返す。
func (r *PostgresWebsiteRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Website, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+websiteColumns+` FROM websites WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	defer rows.Close()

	var websites []*model.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan website: %w", err)
		}
		websites = append(websites, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate websites: %w", err)
	}

	return websites, nil
}

// CreateWithIntegrations はウェブサイトとプロバイダごとの接続行を同一トランザクションで作成する。
func (r *PostgresWebsiteRepo) CreateWithIntegrations(ctx context.Context, website *model.Website, integrations []*model.ProviderIntegration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ウェブサイトを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO websites (id, user_id, domain, sitemap_url, sitemap_urls_count, sitemap_schedule,
		 next_scheduled_run_at, last_submission_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		website.ID, website.UserID, website.Domain, website.SitemapURL, website.SitemapURLsCount,
		website.SitemapSchedule, website.NextScheduledRunAt, website.LastSubmissionDate,
		website.CreatedAt, website.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert website: %w", err)
	}

	// プロバイダごとの接続行をdisconnected初期状態で作成
	for _, in := range integrations {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_integrations (id, website_id, provider_kind, status, artifact,
			 identity_email, last_verified_at, consecutive_failures, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			in.ID, in.WebsiteID, in.ProviderKind, in.Status, in.Artifact,
			in.IdentityEmail, in.LastVerifiedAt, in.ConsecutiveFailures, in.CreatedAt, in.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert provider integration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete は指定IDのウェブサイトを削除する。接続行はCASCADE削除される。
func (r *PostgresWebsiteRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM websites WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete website: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("website not found: %s", id)
	}
	return nil
}

// UpdateSitemap はsitemap_urlとsitemap_urls_countを更新する。
func (r *PostgresWebsiteRepo) UpdateSitemap(ctx context.Context, id, sitemapURL string, urlsCount int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE websites SET sitemap_url = $2, sitemap_urls_count = $3, updated_at = now()
		 WHERE id = $1`,
		id, sitemapURL, urlsCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update sitemap: %w", err)
	}
	return nil
}

// UpdateSchedule はsitemap_scheduleとnext_scheduled_run_atを更新する。
func (r *PostgresWebsiteRepo) UpdateSchedule(ctx context.Context, id string, schedule model.SitemapSchedule, nextRunAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE websites SET sitemap_schedule = $2, next_scheduled_run_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, schedule, nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// TouchLastSubmission はlast_submission_dateを更新する。
func (r *PostgresWebsiteRepo) TouchLastSubmission(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE websites SET last_submission_date = $2, updated_at = now()
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last submission: %w", err)
	}
	return nil
}

// ListDueForScheduledRun はスケジュール実行対象のウェブサイトを排他的に取得する。
// 取得と同時にnext_scheduled_run_atを次の周期に進めることで、
// 複数ワーカーが同じウェブサイトを重複実行しないことを保証する。
func (r *PostgresWebsiteRepo) ListDueForScheduledRun(ctx context.Context) ([]*model.Website, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+websiteColumns+` FROM websites
		 WHERE sitemap_schedule <> 'manual'
		   AND next_scheduled_run_at IS NOT NULL
		   AND next_scheduled_run_at <= now()
		 ORDER BY next_scheduled_run_at
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due websites: %w", err)
	}

	var websites []*model.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan website: %w", err)
		}
		websites = append(websites, w)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate due websites: %w", err)
	}
	rows.Close()

	// 長時間停止していた場合でも次回実行時刻は未来になるよう進める
	for _, w := range websites {
		interval := w.SitemapSchedule.Interval()
		if interval <= 0 {
			continue
		}
		next := w.NextScheduledRunAt.Add(interval)
		now := time.Now()
		for !next.After(now) {
			next = next.Add(interval)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE websites SET next_scheduled_run_at = $2 WHERE id = $1`,
			w.ID, next,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to advance next run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return websites, nil
}
