// Package model はドメインモデルを定義する。
package model

import "time"

// SubmissionOutcome は1件のURLに対する送信結果を表す。
type SubmissionOutcome string

const (
	// OutcomeAccepted はプロバイダがURLを受理した状態。
	OutcomeAccepted SubmissionOutcome = "accepted"
	// OutcomeRejected はプロバイダがURLを拒否した状態。理由を伴う。
	OutcomeRejected SubmissionOutcome = "rejected"
	// OutcomeSkippedNotConnected はプロバイダが未接続のため送信しなかった状態。
	OutcomeSkippedNotConnected SubmissionOutcome = "skipped-not-connected"
)

// URLResult は1件のURLに対する送信結果と拒否理由を保持する。
type URLResult struct {
	URL     string
	Outcome SubmissionOutcome
	Reason  string // Outcome = rejected の場合のみ
}

// ProviderResult は1プロバイダに対する送信結果の集計を表す。
type ProviderResult struct {
	Provider ProviderKind
	URLs     []URLResult
	Accepted int
	Rejected int
	Skipped  int
}

// SubmissionBatch は1回の送信操作の入力と結果を表す。
// エンティティとしては永続化されず、日次カウンタのみが記録される。
type SubmissionBatch struct {
	WebsiteID   string
	URLs        []string // 重複除去済み、入力順を保持
	Targets     []ProviderKind
	InvalidURLs []URLResult // 構文的に無効で個別に拒否されたURL
	Results     map[ProviderKind]*ProviderResult
	SubmittedAt time.Time
}

// TotalAccepted は全プロバイダの受理件数の合計を返す。
func (b *SubmissionBatch) TotalAccepted() int {
	total := 0
	for _, r := range b.Results {
		total += r.Accepted
	}
	return total
}

// DedupeURLs はURLリストから重複を除去する。入力順を保持する。
func DedupeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
