package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/indexman/internal/integration"
	"github.com/hitoshi/indexman/internal/model"
)

// defaultIndexNowEndpoint はIndexNowの共有エンドポイント。
// ここに送信するとBingを含む参加検索エンジンへ伝播する。
const defaultIndexNowEndpoint = "https://api.indexnow.org/indexnow"

// IndexNowClient はIndexNowプロトコルのクライアント。
// ホストされたキーファイルで所有権を証明済みのドメインのURL群を一括通知する。
type IndexNowClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewIndexNowClient はIndexNowClientの新しいインスタンスを生成する。
func NewIndexNowClient(httpClient *http.Client, logger *slog.Logger) *IndexNowClient {
	return &IndexNowClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultIndexNowEndpoint,
	}
}

// indexNowRequest はIndexNowのJSONリクエストボディ。
type indexNowRequest struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// SubmitURLs はURL群を1リクエストで一括通知する。
// IndexNowはバッチ全体を受理または拒否するため、結果は全URLに同じ
// Outcomeが付く。リクエスト自体の失敗はエラーとして返す。
func (c *IndexNowClient) SubmitURLs(ctx context.Context, domain, key string, urls []string) ([]model.URLResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	payload := indexNowRequest{
		Host:        hostOf(domain),
		Key:         key,
		KeyLocation: integration.KeyFileURL(domain, key),
		URLList:     urls,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal indexnow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IndexNow APIの呼び出しに失敗しました",
			slog.String("host", payload.Host),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("indexnow request failed: %w", err)
	}
	defer resp.Body.Close()

	results := make([]model.URLResult, 0, len(urls))

	// 200 OKと202 Acceptedは受理扱い
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		for _, u := range urls {
			results = append(results, model.URLResult{URL: u, Outcome: model.OutcomeAccepted})
		}
		return results, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := fmt.Sprintf("indexnow returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	c.logger.Error("IndexNow APIがエラーステータスを返しました",
		slog.String("host", payload.Host),
		slog.Int("http_status", resp.StatusCode),
	)
	for _, u := range urls {
		results = append(results, model.URLResult{URL: u, Outcome: model.OutcomeRejected, Reason: reason})
	}
	return results, nil
}

// hostOf はドメイン表記からホスト名部分を取り出す。
// スキーム付きで登録されたドメインにも対応する。
func hostOf(domain string) string {
	host := domain
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}
