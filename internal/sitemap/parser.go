// Package sitemap はサイトマップの発見、取得、解析、送信前の列挙を提供する。
package sitemap

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/hitoshi/indexman/internal/model"
)

// Document は解析済みサイトマップの種別と内容を表す。
// urlsetの場合はURLsが、sitemapindexの場合はChildSitemapsが埋まる。
type Document struct {
	URLs          []string
	ChildSitemaps []string
}

// IsIndex はsitemapindex（子サイトマップへの参照集合）かを返す。
func (d *Document) IsIndex() bool {
	return len(d.ChildSitemaps) > 0
}

// urlsetXML は<urlset>ドキュメントの構造。
type urlsetXML struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapindexXML は<sitemapindex>ドキュメントの構造。
type sitemapindexXML struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Parse はサイトマップXMLを解析する。
// ルート要素がurlsetとsitemapindexのどちらかを判別し、locを抽出する。
// どちらでもない場合はSITEMAP_PARSE_FAILEDエラーを返す。
func Parse(data []byte) (*Document, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, model.NewSitemapParseError(err.Error())
	}

	switch root {
	case "urlset":
		var us urlsetXML
		if err := xml.Unmarshal(data, &us); err != nil {
			return nil, model.NewSitemapParseError(fmt.Sprintf("invalid urlset: %v", err))
		}
		doc := &Document{}
		for _, u := range us.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc != "" {
				doc.URLs = append(doc.URLs, loc)
			}
		}
		return doc, nil

	case "sitemapindex":
		var si sitemapindexXML
		if err := xml.Unmarshal(data, &si); err != nil {
			return nil, model.NewSitemapParseError(fmt.Sprintf("invalid sitemapindex: %v", err))
		}
		doc := &Document{}
		for _, s := range si.Sitemaps {
			loc := strings.TrimSpace(s.Loc)
			if loc != "" {
				doc.ChildSitemaps = append(doc.ChildSitemaps, loc)
			}
		}
		return doc, nil
	}

	return nil, model.NewSitemapParseError(fmt.Sprintf("unexpected root element <%s>", root))
}

// rootElement はXMLドキュメントのルート要素名を返す。
func rootElement(data []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", fmt.Errorf("document is not valid XML: %v", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
