// Package indexer は検索エンジンのインデックス登録APIへのURL送信を提供する。
// Google Indexing APIとIndexNow（Bing）の2系統のクライアントと、
// 接続済みプロバイダへ並行して送信を振り分けるディスパッチャを含む。
package indexer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/indexman/internal/integration"
	"github.com/hitoshi/indexman/internal/model"
)

const (
	// defaultGooglePublishEndpoint はIndexing APIのURL通知エンドポイント。
	defaultGooglePublishEndpoint = "https://indexing.googleapis.com/v3/urlNotifications:publish"
	// indexingScope はIndexing APIに必要なOAuthスコープ。
	indexingScope = "https://www.googleapis.com/auth/indexing"
	// defaultTokenURI はtoken_uriが欠けている認証情報のフォールバック。
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	// tokenLifetime はJWTアサーションの有効期間。
	tokenLifetime = time.Hour
)

// GoogleClient はGoogle Indexing APIのクライアント。
// サービスアカウント認証情報からJWTアサーションを組み立ててアクセストークンを取得し、
// URLごとにURL_UPDATED通知を送信する。
type GoogleClient struct {
	httpClient *http.Client
	logger     *slog.Logger

	// テスト用にエンドポイントを差し替え可能
	publishEndpoint  string
	tokenURLOverride string
}

// NewGoogleClient はGoogleClientの新しいインスタンスを生成する。
func NewGoogleClient(httpClient *http.Client, logger *slog.Logger) *GoogleClient {
	return &GoogleClient{
		httpClient:      httpClient,
		logger:          logger,
		publishEndpoint: defaultGooglePublishEndpoint,
	}
}

// CheckCredential は認証情報でトークン取得を試行し、有効性を確認する。
// integration.CredentialCheckerを実装する。
func (c *GoogleClient) CheckCredential(ctx context.Context, document []byte) error {
	_, err := c.fetchAccessToken(ctx, document)
	return err
}

// SubmitURLs は認証情報でトークンを取得し、各URLをURL_UPDATEDとして通知する。
// トークン取得に失敗した場合はエラーを返す（全URL送信不能のため）。
// 個々のURLの受理・拒否はURLResultとして返し、エラーにはしない。
func (c *GoogleClient) SubmitURLs(ctx context.Context, document []byte, urls []string) ([]model.URLResult, error) {
	token, err := c.fetchAccessToken(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	results := make([]model.URLResult, 0, len(urls))
	for _, u := range urls {
		if err := c.publishURL(ctx, token, u); err != nil {
			results = append(results, model.URLResult{
				URL:     u,
				Outcome: model.OutcomeRejected,
				Reason:  err.Error(),
			})
			continue
		}
		results = append(results, model.URLResult{URL: u, Outcome: model.OutcomeAccepted})
	}
	return results, nil
}

// publishURL は1件のURL_UPDATED通知を送信する。
func (c *GoogleClient) publishURL(ctx context.Context, token, notifyURL string) error {
	payload, err := json.Marshal(map[string]string{
		"url":  notifyURL,
		"type": "URL_UPDATED",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.publishEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("indexing API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// googleTokenResponse はトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchAccessToken はサービスアカウントのJWTアサーションでアクセストークンを取得する。
func (c *GoogleClient) fetchAccessToken(ctx context.Context, document []byte) (string, error) {
	cred, err := integration.ParseCredential(document)
	if err != nil {
		return "", err
	}
	if cred.ClientEmail == "" {
		return "", fmt.Errorf("credential has no client_email")
	}
	if cred.PrivateKey == "" {
		return "", fmt.Errorf("credential has no private_key")
	}

	tokenURL := cred.TokenURI
	if tokenURL == "" {
		tokenURL = defaultTokenURI
	}
	if c.tokenURLOverride != "" {
		tokenURL = c.tokenURLOverride
	}

	assertion, err := signJWT(cred.ClientEmail, tokenURL, cred.PrivateKey)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token grant failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	return tokenResp.AccessToken, nil
}

// signJWT はサービスアカウントの秘密鍵でRS256署名付きJWTアサーションを生成する。
func signJWT(clientEmail, audience, privateKeyPEM string) (string, error) {
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	now := time.Now()
	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]interface{}{
		"iss":   clientEmail,
		"scope": indexingScope,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenLifetime).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWT header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWT claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return signingInput + "." + enc.EncodeToString(signature), nil
}

// parseRSAPrivateKey はPEM形式の秘密鍵をパースする。
// サービスアカウント認証情報はPKCS#8形式だが、PKCS#1形式も受理する。
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("private_key is not valid PEM")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private_key is not an RSA key")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private_key: %w", err)
	}
	return key, nil
}
