package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
)

// CredentialChecker はサービスアカウント認証情報の有効性を確認する。
// 実装はトークン取得を試行することで検証する（indexerパッケージが提供）。
type CredentialChecker interface {
	CheckCredential(ctx context.Context, document []byte) error
}

// Service はプロバイダ接続に関するビジネスロジックを提供する。
type Service struct {
	websiteRepo     repository.WebsiteRepository
	integrationRepo repository.IntegrationRepository
	verifier        *KeyFileVerifier
	credChecker     CredentialChecker
}

// NewService はServiceを生成する。
func NewService(
	websiteRepo repository.WebsiteRepository,
	integrationRepo repository.IntegrationRepository,
	verifier *KeyFileVerifier,
	credChecker CredentialChecker,
) *Service {
	return &Service{
		websiteRepo:     websiteRepo,
		integrationRepo: integrationRepo,
		verifier:        verifier,
		credChecker:     credChecker,
	}
}

// findIntegration はウェブサイトの所有権を確認した上で接続行を取得する。
func (s *Service) findIntegration(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.Website, *model.ProviderIntegration, error) {
	website, err := s.websiteRepo.FindByIDForUser(ctx, websiteID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find website: %w", err)
	}
	if website == nil {
		return nil, nil, model.NewWebsiteNotFoundError()
	}

	in, err := s.integrationRepo.FindByWebsiteAndKind(ctx, websiteID, kind)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find integration: %w", err)
	}
	if in == nil {
		return nil, nil, fmt.Errorf("integration row missing for website %s kind %s", websiteID, kind)
	}

	return website, in, nil
}

// SetGoogleCredential はサービスアカウント認証情報を取り込み、検証を試行する。
// ドキュメントがJSONとして不正な場合はINVALID_DOCUMENTエラーを返す。
// 取り込みに成功するとpending状態になり、続けてトークン取得による検証を行う。
// 検証に成功した場合のみconnectedへ遷移する。検証失敗はエラーとせず、
// pending状態の接続行を返す（ユーザーは後から再検証できる）。
func (s *Service) SetGoogleCredential(ctx context.Context, userID, websiteID string, document []byte) (*model.ProviderIntegration, error) {
	_, in, err := s.findIntegration(ctx, userID, websiteID, model.ProviderGoogle)
	if err != nil {
		return nil, err
	}

	cred, err := ParseCredential(document)
	if err != nil {
		return nil, err
	}

	ApplyArtifact(in, document, cred.ClientEmail)

	// トークン取得を試行して認証情報の有効性を確認する
	if err := s.credChecker.CheckCredential(ctx, document); err != nil {
		ApplyVerifyFailure(in)
		slog.Warn("google credential verification failed",
			slog.String("website_id", websiteID),
			slog.String("error", err.Error()),
		)
	} else {
		ApplyVerified(in, time.Now())
	}

	if err := s.integrationRepo.UpdateState(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to update integration state: %w", err)
	}

	slog.Info("google credential ingested",
		slog.String("website_id", websiteID),
		slog.String("status", string(in.Status)),
		slog.String("identity_email", in.IdentityEmail),
	)
	return in, nil
}

// GenerateBingKey は所有権証明用のキーを新規生成し、pending状態にする。
// 生成したキーと、ユーザーがファイルを配置すべきURLを返す。
func (s *Service) GenerateBingKey(ctx context.Context, userID, websiteID string) (key, fileURL string, err error) {
	website, in, err := s.findIntegration(ctx, userID, websiteID, model.ProviderBing)
	if err != nil {
		return "", "", err
	}

	key, err = GenerateKey()
	if err != nil {
		return "", "", err
	}

	ApplyArtifact(in, []byte(key), "")

	if err := s.integrationRepo.UpdateState(ctx, in); err != nil {
		return "", "", fmt.Errorf("failed to update integration state: %w", err)
	}

	slog.Info("bing key generated", slog.String("website_id", websiteID))
	return key, KeyFileURL(website.Domain, key), nil
}

// SetBingKey はユーザー指定のキーを設定し、pending状態にする。
// IndexNow側で既にキーを持っているユーザー向け。
func (s *Service) SetBingKey(ctx context.Context, userID, websiteID, key string) (*model.ProviderIntegration, error) {
	if key == "" {
		return nil, model.NewInvalidDocumentError("key must not be empty")
	}

	_, in, err := s.findIntegration(ctx, userID, websiteID, model.ProviderBing)
	if err != nil {
		return nil, err
	}

	ApplyArtifact(in, []byte(key), "")

	if err := s.integrationRepo.UpdateState(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to update integration state: %w", err)
	}

	return in, nil
}

// VerifyBingKey はホストされたキーファイルを取得して所有権を検証する。
// 検証に成功するとconnectedへ遷移する。
// 失敗時は失敗種別に応じたAPIErrorを返し、状態はpendingのまま
// （connectedだった場合はpendingへ退行）失敗回数を記録する。
func (s *Service) VerifyBingKey(ctx context.Context, userID, websiteID string) (*model.ProviderIntegration, error) {
	website, in, err := s.findIntegration(ctx, userID, websiteID, model.ProviderBing)
	if err != nil {
		return nil, err
	}

	if len(in.Artifact) == 0 {
		return nil, model.NewNotConnectedError(string(model.ProviderBing))
	}
	key := string(in.Artifact)

	outcome, err := s.verifier.Verify(ctx, website.Domain, key)
	if err != nil {
		return nil, fmt.Errorf("failed to verify key file: %w", err)
	}

	fileURL := KeyFileURL(website.Domain, key)

	if outcome == OutcomeVerified {
		ApplyVerified(in, time.Now())
	} else {
		ApplyVerifyFailure(in)
	}
	if err := s.integrationRepo.UpdateState(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to update integration state: %w", err)
	}

	slog.Info("bing key verification completed",
		slog.String("website_id", websiteID),
		slog.String("outcome", outcome.String()),
	)

	switch outcome {
	case OutcomeVerified:
		return in, nil
	case OutcomeNotFound:
		return nil, model.NewKeyNotFoundError(fileURL)
	case OutcomeMismatch:
		return nil, model.NewKeyMismatchError(fileURL)
	default:
		return nil, model.NewNetworkErrorError("failed to fetch key file")
	}
}

// Disconnect は接続を切断し、アーティファクトを破棄する。
func (s *Service) Disconnect(ctx context.Context, userID, websiteID string, kind model.ProviderKind) (*model.ProviderIntegration, error) {
	if !kind.IsValid() {
		return nil, model.NewInvalidDocumentError("unknown provider kind")
	}

	_, in, err := s.findIntegration(ctx, userID, websiteID, kind)
	if err != nil {
		return nil, err
	}

	ApplyDisconnect(in)

	if err := s.integrationRepo.UpdateState(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to update integration state: %w", err)
	}

	slog.Info("integration disconnected",
		slog.String("website_id", websiteID),
		slog.String("provider", string(kind)),
	)
	return in, nil
}

// ListStatus はウェブサイトの全接続状態を返す。
func (s *Service) ListStatus(ctx context.Context, userID, websiteID string) ([]*model.ProviderIntegration, error) {
	website, err := s.websiteRepo.FindByIDForUser(ctx, websiteID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	if website == nil {
		return nil, model.NewWebsiteNotFoundError()
	}

	return s.integrationRepo.ListByWebsiteID(ctx, websiteID)
}

// Reverify は接続済み接続の再検証を行う。再検証ジョブから呼ばれる。
// 検証に失敗した場合はpendingへ退行させる。disconnectedへは戻さない。
func (s *Service) Reverify(ctx context.Context, item repository.IntegrationWithDomain) error {
	in := item.ProviderIntegration

	var failed bool
	switch in.ProviderKind {
	case model.ProviderBing:
		outcome, err := s.verifier.Verify(ctx, item.Domain, string(in.Artifact))
		if err != nil {
			return fmt.Errorf("failed to reverify key file: %w", err)
		}
		failed = outcome != OutcomeVerified
	case model.ProviderGoogle:
		failed = s.credChecker.CheckCredential(ctx, in.Artifact) != nil
	default:
		return fmt.Errorf("unknown provider kind: %s", in.ProviderKind)
	}

	if failed {
		ApplyVerifyFailure(&in)
	} else {
		ApplyVerified(&in, time.Now())
	}

	if err := s.integrationRepo.UpdateState(ctx, &in); err != nil {
		return fmt.Errorf("failed to update integration state: %w", err)
	}

	if failed {
		slog.Warn("reverification failed, integration demoted to pending",
			slog.String("website_id", in.WebsiteID),
			slog.String("provider", string(in.ProviderKind)),
			slog.Int("consecutive_failures", in.ConsecutiveFailures),
		)
	}
	return nil
}
