package sitemap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/indexman/internal/model"
)

// maxRobotsSize はrobots.txtの最大読み取りサイズ。
const maxRobotsSize = 512 * 1024

// maxHomepageSize はホームページHTMLの最大読み取りサイズ。
// <head>内の<link>さえ読めればよい。
const maxHomepageSize = 1024 * 1024

// Detector はドメインからサイトマップURLを発見する。
// 発見順序:
//  1. robots.txtのSitemap:行
//  2. 慣習的な /sitemap.xml
//  3. ホームページHTMLの<link rel="sitemap">
type Detector struct {
	client *http.Client
}

// NewDetector はDetectorを生成する。
func NewDetector(client *http.Client) *Detector {
	return &Detector{client: client}
}

// Discover はdomainのサイトマップURLを発見する。
// 見つからない場合はSITEMAP_NOT_FOUNDエラーを返す。
func (d *Detector) Discover(ctx context.Context, domain string) (string, error) {
	base := baseURLOf(domain)

	// 1. robots.txt
	if found := d.fromRobotsTxt(ctx, base); found != "" {
		return found, nil
	}

	// 2. /sitemap.xml
	conventional := base + "/sitemap.xml"
	if d.exists(ctx, conventional) {
		return conventional, nil
	}

	// 3. ホームページの<link rel="sitemap">
	if found := d.fromHomepage(ctx, base); found != "" {
		return found, nil
	}

	return "", model.NewSitemapNotFoundError(domain)
}

// baseURLOf はドメイン表記からベースURLを組み立てる。
func baseURLOf(domain string) string {
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/")
}

// fromRobotsTxt はrobots.txtのSitemap:行から最初のサイトマップURLを返す。
func (d *Detector) fromRobotsTxt(ctx context.Context, base string) string {
	body, err := d.get(ctx, base+"/robots.txt", maxRobotsSize)
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// 大文字小文字を区別しない（"Sitemap:" / "sitemap:" 両対応）
		if len(line) < 8 || !strings.EqualFold(line[:8], "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[8:])
		if loc != "" {
			return loc
		}
	}
	return ""
}

// fromHomepage はホームページHTMLの<head>から<link rel="sitemap">を探す。
func (d *Detector) fromHomepage(ctx context.Context, base string) string {
	body, err := d.get(ctx, base+"/", maxHomepageSize)
	if err != nil {
		return ""
	}

	baseU, err := url.Parse(base + "/")
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				// <link>は<head>内にしか現れないため打ち切る
				return ""
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "sitemap" || href == "" {
				continue
			}

			// 相対URLを絶対URLに解決
			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return baseU.ResolveReference(ref).String()
		}
	}
}

// exists は指定URLが200を返すかを確認する。
func (d *Detector) exists(ctx context.Context, checkURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, checkURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "indexman/1.0 (+sitemap-detector)")

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// HEADを拒否するサーバーにはGETで再確認
	if resp.StatusCode == http.StatusMethodNotAllowed {
		if _, err := d.get(ctx, checkURL, 1024); err == nil {
			return true
		}
		return false
	}

	return resp.StatusCode == http.StatusOK
}

// get は指定URLをGETし、サイズ制限付きでボディを返す。
func (d *Detector) get(ctx context.Context, getURL string, maxSize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "indexman/1.0 (+sitemap-detector)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxSize))
}
