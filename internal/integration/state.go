package integration

import (
	"time"

	"github.com/hitoshi/indexman/internal/model"
)

// 状態遷移は以下の3遷移のみが許される:
//
//	disconnected → pending  (アーティファクト設定)
//	pending      → connected (検証成功)
//	任意の状態    → disconnected (明示的な切断)
//
// connected状態での再検証失敗はpendingへ戻す。disconnectedへは戻さない:
// アーティファクト自体は有効なまま一時的にファイルが消えている場合が
// 多いため、ユーザーの再検証操作だけで復帰できる状態に留める。

// ApplyArtifact はアーティファクトを設定しpending状態へ遷移させる。
// 既存のアーティファクトは上書きされ、検証履歴はリセットされる。
func ApplyArtifact(in *model.ProviderIntegration, artifact []byte, identityEmail string) {
	in.Artifact = artifact
	in.IdentityEmail = identityEmail
	in.Status = model.StatusPending
	in.LastVerifiedAt = nil
	in.ConsecutiveFailures = 0
	in.UpdatedAt = time.Now()
}

// ApplyVerified は検証成功を記録しconnected状態へ遷移させる。
func ApplyVerified(in *model.ProviderIntegration, at time.Time) {
	in.Status = model.StatusConnected
	in.LastVerifiedAt = &at
	in.ConsecutiveFailures = 0
	in.UpdatedAt = time.Now()
}

// ApplyVerifyFailure は検証失敗を記録する。
// connected状態だった場合はpendingへ退行させる。pending状態は維持する。
func ApplyVerifyFailure(in *model.ProviderIntegration) {
	in.ConsecutiveFailures++
	if in.Status == model.StatusConnected {
		in.Status = model.StatusPending
	}
	in.UpdatedAt = time.Now()
}

// ApplyDisconnect は接続を切断しアーティファクトを破棄する。
func ApplyDisconnect(in *model.ProviderIntegration) {
	in.Status = model.StatusDisconnected
	in.Artifact = nil
	in.IdentityEmail = ""
	in.LastVerifiedAt = nil
	in.ConsecutiveFailures = 0
	in.UpdatedAt = time.Now()
}
