// Package model はドメインモデルを定義する。
package model

import "time"

// Plan はユーザーの契約プランを表す。
type Plan string

const (
	// PlanBasic は無料プラン。
	PlanBasic Plan = "basic"
	// PlanPro は有料プラン。送信上限が引き上げられる。
	PlanPro Plan = "pro"
)

// DailySubmissionLimit はプランごとの1日あたりのURL送信上限を返す。
func (p Plan) DailySubmissionLimit() int {
	if p == PlanPro {
		return 1000
	}
	return 200
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID          string
	Username    string
	Email       string
	Plan        Plan
	PhotoURL    string
	IsOAuthUser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
