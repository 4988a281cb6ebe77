// Package integration はインデックス登録プロバイダとの接続管理を提供する。
// 接続はウェブサイト×プロバイダごとに disconnected → pending → connected の
// 状態機械として管理され、シークレット（アーティファクト）の設定と
// 所有権検証によって遷移する。
package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// keyBytes はキーのバイト長。hexエンコードで32文字になる。
const keyBytes = 16

// GenerateKey は所有権証明用のキーを生成する。
// 32文字の小文字16進数文字列を返す。
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// KeyFileURL は所有権証明ファイルの配置先URLを組み立てる。
// domainがスキームを含まない場合はhttpsを前置する。
func KeyFileURL(domain, key string) string {
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + "/" + key + ".txt"
}

// VerifyOutcome はキーファイル検証の結果種別。
type VerifyOutcome int

const (
	// OutcomeVerified はファイルが存在し内容がキーと一致した。
	OutcomeVerified VerifyOutcome = iota
	// OutcomeNotFound はファイルが存在しなかった（HTTP 404等）。
	OutcomeNotFound
	// OutcomeMismatch はファイルは存在したが内容がキーと一致しなかった。
	OutcomeMismatch
	// OutcomeNetworkError は取得自体に失敗した（DNS、接続、タイムアウト等）。
	OutcomeNetworkError
)

// String はVerifyOutcomeの文字列表現を返す。
func (o VerifyOutcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeNetworkError:
		return "network_error"
	}
	return "unknown"
}

// KeyFileVerifier はホストされたキーファイルを取得して検証する。
// HTTPクライアントにはSSRF防止付きクライアントを渡すこと。
type KeyFileVerifier struct {
	client  *http.Client
	maxSize int64
}

// NewKeyFileVerifier はKeyFileVerifierを生成する。
func NewKeyFileVerifier(client *http.Client, maxSize int64) *KeyFileVerifier {
	return &KeyFileVerifier{client: client, maxSize: maxSize}
}

// Verify はdomain上のキーファイルを取得し、内容をkeyと比較する。
// 比較の前に前後の空白・改行をトリムする。ウェブサーバーや
// エディタが末尾に改行を付けることが多いため、完全一致は要求しない。
// 取得失敗の種別はVerifyOutcomeで返し、errは内部エラーのみに使う。
func (v *KeyFileVerifier) Verify(ctx context.Context, domain, key string) (VerifyOutcome, error) {
	fileURL := KeyFileURL(domain, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return OutcomeNetworkError, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "indexman/1.0 (+ownership-verification)")

	resp, err := v.client.Do(req)
	if err != nil {
		return OutcomeNetworkError, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return OutcomeNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return OutcomeNetworkError, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.maxSize))
	if err != nil {
		return OutcomeNetworkError, nil
	}

	if strings.TrimSpace(string(body)) != key {
		return OutcomeMismatch, nil
	}

	return OutcomeVerified, nil
}
