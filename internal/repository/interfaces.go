// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/indexman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、websitesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。
	// メールアドレスで既存ユーザーに合流する場合の紐付けに使用する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// WebsiteRepository はウェブサイトデータの永続化インターフェース。
// すべての取得系メソッドは所有者スコープで動作し、他ユーザーの行を返さない。
type WebsiteRepository interface {
	// FindByIDForUser は指定IDのウェブサイトを所有者チェック付きで取得する。
	// 存在しない、または所有者が異なる場合はnilを返す（存在の有無を区別しない）。
	FindByIDForUser(ctx context.Context, id, userID string) (*model.Website, error)

	// FindByUserAndDomain はユーザーIDとドメインでウェブサイトを検索する。見つからない場合はnilを返す。
	FindByUserAndDomain(ctx context.Context, userID, domain string) (*model.Website, error)

	// ListByUserID はユーザーのウェブサイト一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Website, error)

	// CreateWithIntegrations はウェブサイトとプロバイダごとの接続行（disconnected初期状態）を
	// 同一トランザクションで作成する。
	CreateWithIntegrations(ctx context.Context, website *model.Website, integrations []*model.ProviderIntegration) error

	// Delete は指定IDのウェブサイトを削除する。接続行はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// UpdateSitemap はsitemap_urlとsitemap_urls_countを更新する。
	UpdateSitemap(ctx context.Context, id, sitemapURL string, urlsCount int) error

	// UpdateSchedule はsitemap_scheduleとnext_scheduled_run_atを更新する。
	UpdateSchedule(ctx context.Context, id string, schedule model.SitemapSchedule, nextRunAt *time.Time) error

	// TouchLastSubmission はlast_submission_dateを更新する。
	TouchLastSubmission(ctx context.Context, id string, at time.Time) error

	// ListDueForScheduledRun はスケジュール実行対象のウェブサイトを取得する。
	// next_scheduled_run_at <= now() かつ sitemap_schedule <> 'manual' の行を
	// FOR UPDATE SKIP LOCKEDで排他的に取得し、次回実行時刻を先に進めてから返す。
	// 停止期間をまたいだ場合も次のティックで1回だけ実行される（missed-run recovery）。
	ListDueForScheduledRun(ctx context.Context) ([]*model.Website, error)
}

// IntegrationRepository はプロバイダ接続状態の永続化インターフェース。
type IntegrationRepository interface {
	// FindByWebsiteAndKind はウェブサイトIDとプロバイダ種別で接続行を取得する。
	// 見つからない場合はnilを返す。
	FindByWebsiteAndKind(ctx context.Context, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error)

	// ListByWebsiteID はウェブサイトの全接続行を返す。
	ListByWebsiteID(ctx context.Context, websiteID string) ([]*model.ProviderIntegration, error)

	// UpdateState はstatus、artifact、identity_email、last_verified_at、
	// consecutive_failuresを更新する。
	// 同一接続行への並行更新はlast-writer-winsとなる（検証は冪等なため許容）。
	UpdateState(ctx context.Context, integration *model.ProviderIntegration) error

	// ListConnectedByKind は指定プロバイダ種別のconnected状態の接続行を、
	// ウェブサイトのドメインとともに返す。再検証ジョブで使用する。
	ListConnectedByKind(ctx context.Context, kind model.ProviderKind) ([]IntegrationWithDomain, error)
}

// IntegrationWithDomain は接続行と所属ウェブサイトのドメインを結合した構造体。
type IntegrationWithDomain struct {
	model.ProviderIntegration
	Domain string
}

// SubmissionRepository はURL送信の日次カウンタの永続化インターフェース。
type SubmissionRepository interface {
	// AddCounts は指定日のカウンタ行に受理・拒否件数を加算する。
	// 行が存在しない場合は作成する（UPSERT、冪等）。
	AddCounts(ctx context.Context, websiteID string, kind model.ProviderKind, day time.Time, accepted, rejected int) error

	// AcceptedCountForDay は指定日にウェブサイトから受理された送信URL数の合計を返す。
	// 日次上限の判定に使用する。
	AcceptedCountForDay(ctx context.Context, websiteID string, day time.Time) (int, error)

	// StatsByWebsite はウェブサイトの送信統計（本日の受理数と累計受理数）を返す。
	StatsByWebsite(ctx context.Context, websiteID string, today time.Time) (SubmissionStats, error)

	// DeleteOlderThan は指定日より古いカウンタ行を削除する。クリーンアップジョブで使用する。
	DeleteOlderThan(ctx context.Context, day time.Time) (int64, error)
}

// SubmissionStats はウェブサイト単位の送信統計を表す。
type SubmissionStats struct {
	SubmittedToday int
	SubmittedTotal int
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
