// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, integration, submission, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDocument  = "INVALID_DOCUMENT"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeKeyNotFound      = "KEY_NOT_FOUND"
	ErrCodeKeyMismatch      = "KEY_MISMATCH"
	ErrCodeNotConnected     = "NOT_CONNECTED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeWebsiteNotFound  = "WEBSITE_NOT_FOUND"
	ErrCodeDuplicateWebsite = "DUPLICATE_WEBSITE"
	ErrCodeInvalidDomain    = "INVALID_DOMAIN"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeInvalidSchedule  = "INVALID_SCHEDULE"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeSitemapNotFound  = "SITEMAP_NOT_FOUND"
	ErrCodeSitemapParse     = "SITEMAP_PARSE_FAILED"
	ErrCodeSubmissionLimit  = "SUBMISSION_LIMIT"
	ErrCodeEmptySubmission  = "EMPTY_SUBMISSION"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
)

// NewInvalidDocumentError は認証情報ドキュメントの解析失敗エラーを生成する。
func NewInvalidDocumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDocument,
		Message:  fmt.Sprintf("サービスアカウントの認証情報ファイルを解析できませんでした: %s", reason),
		Category: "integration",
		Action:   "Google Cloud Consoleからダウンロードした credentials.json をそのままアップロードしてください。",
	}
}

// NewNetworkErrorError は検証・送信時の一時的なネットワークエラーを生成する。
func NewNetworkErrorError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  fmt.Sprintf("外部サイトへの接続に失敗しました: %s", reason),
		Category: "integration",
		Action:   "一時的な障害の可能性があります。しばらく待ってから再度お試しください。",
	}
}

// NewKeyNotFoundError はキーファイルが配置されていない場合のエラーを生成する。
func NewKeyNotFoundError(keyFileURL string) *APIError {
	return &APIError{
		Code:     ErrCodeKeyNotFound,
		Message:  fmt.Sprintf("キーファイルが見つかりませんでした: %s", keyFileURL),
		Category: "integration",
		Action:   "キーファイルをサイトのルートに配置してから、再度検証を実行してください。",
	}
}

// NewKeyMismatchError はキーファイルの内容が一致しない場合のエラーを生成する。
func NewKeyMismatchError(keyFileURL string) *APIError {
	return &APIError{
		Code:     ErrCodeKeyMismatch,
		Message:  fmt.Sprintf("キーファイルの内容が登録済みのキーと一致しません: %s", keyFileURL),
		Category: "integration",
		Action:   "キーファイルに正しいキーだけが書かれているか確認してください。キーを再生成した場合はファイルも置き換えてください。",
	}
}

// NewNotConnectedError は未接続プロバイダへの操作エラーを生成する。
func NewNotConnectedError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  fmt.Sprintf("プロバイダが接続されていません: %s", provider),
		Category: "submission",
		Action:   "ウェブサイトの設定からプロバイダの接続を完了してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewWebsiteNotFoundError はウェブサイトが見つからない場合のエラーを生成する。
// 所有権チェックに失敗した場合も同じエラーを返す（他ユーザーのリソースの存在を漏らさない）。
func NewWebsiteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeWebsiteNotFound,
		Message:  "指定されたウェブサイトが見つかりません。",
		Category: "validation",
		Action:   "ウェブサイトの一覧を確認してください。",
	}
}

// NewDuplicateWebsiteError は同一ドメインの重複登録エラーを生成する。
func NewDuplicateWebsiteError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateWebsite,
		Message:  fmt.Sprintf("このドメインは既に登録されています: %s", domain),
		Category: "validation",
		Action:   "ウェブサイトの一覧から該当ドメインを確認してください。",
	}
}

// NewInvalidDomainError は無効なドメインエラーを生成する。
func NewInvalidDomainError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDomain,
		Message:  fmt.Sprintf("無効なドメインです: %s", reason),
		Category: "validation",
		Action:   "スキームやパスを含まないホスト名（例: example.com）を入力してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる絶対URLを入力してください。",
	}
}

// NewInvalidScheduleError は無効なスケジュール指定エラーを生成する。
func NewInvalidScheduleError(schedule string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("無効なスケジュールです: %s", schedule),
		Category: "validation",
		Action:   "スケジュールには manual、daily、weekly のいずれかを指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのドメインを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewSitemapNotFoundError はサイトマップ未検出エラーを生成する。
func NewSitemapNotFoundError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeSitemapNotFound,
		Message:  fmt.Sprintf("サイトマップを検出できませんでした: %s", domain),
		Category: "submission",
		Action:   "robots.txt の Sitemap 行、または /sitemap.xml が配置されているか確認してください。",
	}
}

// NewSitemapParseError はサイトマップ解析失敗エラーを生成する。
func NewSitemapParseError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSitemapParse,
		Message:  fmt.Sprintf("サイトマップの解析に失敗しました: %s", reason),
		Category: "submission",
		Action:   "サイトマップが有効なXML形式（urlset または sitemapindex）か確認してください。",
	}
}

// NewSubmissionLimitError は1日あたりの送信上限エラーを生成する。
func NewSubmissionLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionLimit,
		Message:  fmt.Sprintf("本日の送信数が上限（%d件）に達しています。", limit),
		Category: "submission",
		Action:   "明日以降に再度お試しいただくか、プランのアップグレードをご検討ください。",
	}
}

// NewEmptySubmissionError は送信対象URLが空の場合のエラーを生成する。
func NewEmptySubmissionError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptySubmission,
		Message:  "送信対象のURLがありません。",
		Category: "validation",
		Action:   "送信するURLを1件以上指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
