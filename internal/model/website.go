// Package model はドメインモデルを定義する。
package model

import "time"

// SitemapSchedule はサイトマップ送信のスケジュール種別を表す。
type SitemapSchedule string

const (
	// ScheduleManual は手動送信のみ。
	ScheduleManual SitemapSchedule = "manual"
	// ScheduleDaily は日次の自動送信。
	ScheduleDaily SitemapSchedule = "daily"
	// ScheduleWeekly は週次の自動送信。
	ScheduleWeekly SitemapSchedule = "weekly"
)

// IsValid はスケジュール種別が有効かを検証する。
func (s SitemapSchedule) IsValid() bool {
	switch s {
	case ScheduleManual, ScheduleDaily, ScheduleWeekly:
		return true
	}
	return false
}

// Interval はスケジュール種別に対応する実行間隔を返す。
// manualの場合は0を返す。
func (s SitemapSchedule) Interval() time.Duration {
	switch s {
	case ScheduleDaily:
		return 24 * time.Hour
	case ScheduleWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Website はユーザーが管理するドメインを表す。
// domainはスキームを含まない正規化済みホスト名で、ユーザーごとに一意。
type Website struct {
	ID                 string
	UserID             string
	Domain             string
	SitemapURL         string
	SitemapURLsCount   int
	SitemapSchedule    SitemapSchedule
	NextScheduledRunAt *time.Time
	LastSubmissionDate *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderKind はインデックス登録プロバイダの接続方式を表す。
type ProviderKind string

const (
	// ProviderGoogle はサービスアカウント認証情報による接続（Google Indexing API）。
	ProviderGoogle ProviderKind = "google"
	// ProviderBing はキーファイルによる所有権証明での接続（Bing / IndexNow）。
	ProviderBing ProviderKind = "bing"
)

// IsValid はプロバイダ種別が有効かを検証する。
func (k ProviderKind) IsValid() bool {
	return k == ProviderGoogle || k == ProviderBing
}

// IntegrationStatus はプロバイダ接続の状態を表す。
type IntegrationStatus string

const (
	// StatusDisconnected は未接続状態。アーティファクトも保持しない。
	StatusDisconnected IntegrationStatus = "disconnected"
	// StatusPending はアーティファクト設定済みで検証待ちの状態。
	StatusPending IntegrationStatus = "pending"
	// StatusConnected は検証済みで送信可能な状態。
	StatusConnected IntegrationStatus = "connected"
)

// ProviderIntegration はウェブサイトごとのプロバイダ接続状態を表す。
// ウェブサイト作成時にプロバイダごとに1行ずつ（計2行）暗黙に作成され、
// ウェブサイトの削除と同時に削除される。
//
// Artifactはプロバイダ固有のシークレット:
// googleはサービスアカウント認証情報JSON、bingはキー文字列を保持する。
// status = connected のとき、Artifactは必ず存在し少なくとも1回検証済みである。
type ProviderIntegration struct {
	ID                  string
	WebsiteID           string
	ProviderKind        ProviderKind
	Status              IntegrationStatus
	Artifact            []byte
	IdentityEmail       string // googleのみ。表示用の参考情報で、空でも接続は成立する
	LastVerifiedAt      *time.Time
	ConsecutiveFailures int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
