package integration

import (
	"encoding/json"

	"github.com/hitoshi/indexman/internal/model"
)

// ServiceAccountCredential はサービスアカウント認証情報JSONのうち
// 接続管理が参照するフィールド。元のJSONドキュメント全体は
// アーティファクトとしてそのまま保存される。
type ServiceAccountCredential struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// ParseCredential は認証情報ドキュメントを検証し、パース結果を返す。
// JSONとして不正な場合はINVALID_DOCUMENTエラーを返す。
// client_emailが欠けていても受理する: 表示用の参考情報であり、
// 実際の検証はトークン取得の成否で判定されるため。
func ParseCredential(document []byte) (*ServiceAccountCredential, error) {
	var cred ServiceAccountCredential
	if err := json.Unmarshal(document, &cred); err != nil {
		return nil, model.NewInvalidDocumentError("credential is not valid JSON")
	}
	return &cred, nil
}
