package sitemap

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/indexman/internal/model"
)

// Fetcher はサイトマップドキュメントをHTTPで取得する。
// HTTPクライアントにはSSRF防止付きクライアントを渡すこと。
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// NewFetcher はFetcherを生成する。
func NewFetcher(client *http.Client, maxSize int64) *Fetcher {
	return &Fetcher{client: client, maxSize: maxSize}
}

// Fetch は指定URLのサイトマップを取得して返す。
// .gz拡張子またはgzip Content-Typeのレスポンスは展開する。
// レスポンスはmaxSizeで切り詰める（展開後のサイズで判定）。
func (f *Fetcher) Fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "indexman/1.0 (+sitemap-fetcher)")
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, model.NewNetworkErrorError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, model.NewSitemapNotFoundError(sitemapURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewNetworkErrorError(fmt.Sprintf("sitemap fetch returned status %d", resp.StatusCode))
	}

	var reader io.Reader = io.LimitReader(resp.Body, f.maxSize)
	if isGzip(sitemapURL, resp.Header.Get("Content-Type")) {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, model.NewSitemapParseError(fmt.Sprintf("invalid gzip: %v", err))
		}
		defer gz.Close()
		reader = io.LimitReader(gz, f.maxSize)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, model.NewNetworkErrorError(err.Error())
	}
	return body, nil
}

// isGzip はURLの拡張子とContent-Typeからgzip圧縮かを判定する。
func isGzip(sitemapURL, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(strings.SplitN(sitemapURL, "?", 2)[0]), ".gz") {
		return true
	}
	return strings.Contains(contentType, "gzip")
}
