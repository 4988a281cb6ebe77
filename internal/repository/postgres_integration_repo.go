package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/indexman/internal/model"
)

// PostgresIntegrationRepo はPostgreSQLを使用したプロバイダ接続リポジトリ。
type PostgresIntegrationRepo struct {
	db *sql.DB
}

// NewPostgresIntegrationRepo はPostgresIntegrationRepoを生成する。
func NewPostgresIntegrationRepo(db *sql.DB) *PostgresIntegrationRepo {
	return &PostgresIntegrationRepo{db: db}
}

const integrationColumns = `id, website_id, provider_kind, status, artifact,
	identity_email, last_verified_at, consecutive_failures, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (*model.ProviderIntegration, error) {
	in := &model.ProviderIntegration{}
	err := row.Scan(&in.ID, &in.WebsiteID, &in.ProviderKind, &in.Status, &in.Artifact,
		&in.IdentityEmail, &in.LastVerifiedAt, &in.ConsecutiveFailures, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// FindByWebsiteAndKind はウェブサイトIDとプロバイダ種別で接続行を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresIntegrationRepo) FindByWebsiteAndKind(ctx context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM provider_integrations
		 WHERE website_id = $1 AND provider_kind = $2`,
		websiteID, kind,
	)
	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find integration: %w", err)
	}
	return in, nil
}

// ListByWebsiteID はウェブサイトの全接続行を返す。
func (r *PostgresIntegrationRepo) ListByWebsiteID(ctx context.Context, websiteID string) ([]*model.ProviderIntegration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM provider_integrations
		 WHERE website_id = $1 ORDER BY provider_kind`,
		websiteID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*model.ProviderIntegration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integrations: %w", err)
	}

	return integrations, nil
}

// UpdateState は接続行の状態一式を更新する。
func (r *PostgresIntegrationRepo) UpdateState(ctx context.Context, integration *model.ProviderIntegration) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE provider_integrations
		 SET status = $2, artifact = $3, identity_email = $4,
		     last_verified_at = $5, consecutive_failures = $6, updated_at = now()
		 WHERE id = $1`,
		integration.ID, integration.Status, integration.Artifact, integration.IdentityEmail,
		integration.LastVerifiedAt, integration.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to update integration state: %w", err)
	}
	return nil
}

// ListConnectedByKind は指定プロバイダ種別のconnected状態の接続行を、
// 所属ウェブサイトのドメインとともに返す。
func (r *PostgresIntegrationRepo) ListConnectedByKind(ctx context.Context, kind model.ProviderKind) ([]IntegrationWithDomain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.website_id, i.provider_kind, i.status, i.artifact,
		        i.identity_email, i.last_verified_at, i.consecutive_failures, i.created_at, i.updated_at,
		        w.domain
		 FROM provider_integrations i
		 JOIN websites w ON w.id = i.website_id
		 WHERE i.provider_kind = $1 AND i.status = 'connected'
		 ORDER BY i.updated_at`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected integrations: %w", err)
	}
	defer rows.Close()

	var results []IntegrationWithDomain
	for rows.Next() {
		var item IntegrationWithDomain
		in := &item.ProviderIntegration
		err := rows.Scan(&in.ID, &in.WebsiteID, &in.ProviderKind, &in.Status, &in.Artifact,
			&in.IdentityEmail, &in.LastVerifiedAt, &in.ConsecutiveFailures, &in.CreatedAt, &in.UpdatedAt,
			&item.Domain)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connected integration: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connected integrations: %w", err)
	}

	return results, nil
}
