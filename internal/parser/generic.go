package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// GenericName is the registry name of the heuristic parser.
const GenericName = "generic"

var (
	listContainerKeys = []string{"news-list", "list", "list_box", "left_list", "main-list", "content"}
	titleClassKeys    = []string{"title", "bt", "biaoti"}
	contentClassKeys  = []string{"content", "article", "article-body", "articlecontent", "text", "detail"}
	nextPageTexts     = map[string]struct{}{
		"下一页": {}, "下页": {}, "下一页>": {}, "下页>": {}, ">": {}, ">>": {}, "›": {}, "下一页»": {},
		"next": {}, "next page": {}, "next »": {},
	}
)

// GenericOptions tunes link filtering of the heuristic parser.
type GenericOptions struct {
	// ArticleMarkers are substrings that mark an href as an article link in
	// addition to a ".html" suffix.
	ArticleMarkers []string
	// PaginationMarker identifies listing-page links that must not be
	// treated as articles.
	PaginationMarker string
}

// Generic guesses page structure from common class names and degrades to
// whole-page text when nothing matches.
type Generic struct {
	opts GenericOptions
}

// NewGeneric builds the heuristic parser.
func NewGeneric(opts GenericOptions) *Generic {
	if opts.PaginationMarker == "" {
		opts.PaginationMarker = "index_"
	}
	return &Generic{opts: opts}
}

// Name implements crawler.PageParser.
func (g *Generic) Name() string { return GenericName }

// ParseListing returns article links in document order. Links inside
// recognised list containers win; otherwise the whole body is scanned.
func (g *Generic) ParseListing(body []byte, baseURL string) ([]string, error) {
	doc, err := loadDocument(body, baseURL)
	if err != nil {
		return nil, err
	}
	return g.listingLinks(doc.Selection, baseURL), nil
}

func (g *Generic) listingLinks(root *goquery.Selection, baseURL string) []string {
	containers := withClass(root, "", listContainerKeys...)
	if containers.Length() == 0 {
		containers = root.Find("body")
		if containers.Length() == 0 {
			containers = root
		}
	}
	var urls []string
	containers.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := crawler.ResolveURL(baseURL, href)
		if !ok || !g.looksLikeArticle(href, abs) {
			return
		}
		if strings.Contains(strings.ToLower(abs), g.opts.PaginationMarker) {
			return
		}
		urls = append(urls, abs)
	})
	return urls
}

// looksLikeArticle checks the raw href for markers and the resolved,
// fragment-free URL for an .html suffix.
func (g *Generic) looksLikeArticle(href, abs string) bool {
	if strings.HasSuffix(strings.ToLower(abs), ".html") {
		return true
	}
	for _, marker := range g.opts.ArticleMarkers {
		if marker != "" && strings.Contains(href, marker) {
			return true
		}
	}
	return false
}

// FindNextPageURL follows a "next page" anchor, falling back to the first
// numbered index page link.
func (g *Generic) FindNextPageURL(body []byte, baseURL string) (string, bool) {
	doc, err := loadDocument(body, baseURL)
	if err != nil {
		return "", false
	}
	return findNextPage(doc.Selection, baseURL, g.opts.PaginationMarker)
}

func findNextPage(root *goquery.Selection, baseURL, paginationMarker string) (string, bool) {
	var next string
	root.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if _, ok := nextPageTexts[text]; !ok && !strings.Contains(text, "下一页") {
			return true
		}
		href, _ := a.Attr("href")
		if abs, ok := crawler.ResolveURL(baseURL, href); ok {
			next = abs
			return false
		}
		return true
	})
	if next != "" {
		return next, true
	}
	root.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		lowered := strings.ToLower(strings.TrimSpace(href))
		if !strings.Contains(lowered, paginationMarker) || !strings.HasSuffix(lowered, ".html") {
			return true
		}
		if abs, ok := crawler.ResolveURL(baseURL, href); ok && abs != baseURL {
			next = abs
			return false
		}
		return true
	})
	return next, next != ""
}

// ParseArticle extracts title, body and byline. Missing anchors never fail
// the parse; the body falls back to all visible page text.
func (g *Generic) ParseArticle(body []byte, url string) (crawler.ArticleRecord, error) {
	doc, err := loadDocument(body, url)
	if err != nil {
		return crawler.ArticleRecord{}, err
	}
	return genericArticle(doc.Selection, url), nil
}

func genericArticle(root *goquery.Selection, url string) crawler.ArticleRecord {
	meta := ExtractMetadata(metadataTexts(root)...)
	return crawler.ArticleRecord{
		URL:         url,
		Title:       genericTitle(root),
		PublishTime: meta.PublishTime,
		PublishUnit: meta.PublishUnit,
		Content:     genericContent(root),
	}
}

func genericTitle(root *goquery.Selection) string {
	if title := inlineText(root.Find("h1").First()); title != "" {
		return title
	}
	if title := inlineText(withClass(root, "", titleClassKeys...).First()); title != "" {
		return title
	}
	return inlineText(root.Find("title").First())
}

func genericContent(root *goquery.Selection) string {
	var container *goquery.Selection
	for _, key := range contentClassKeys {
		if match := withClass(root, "div", key).First(); match.Length() > 0 {
			container = match
			break
		}
	}
	if container == nil {
		if match := withClass(root, "section", "content").First(); match.Length() > 0 {
			container = match
		}
	}
	if container == nil {
		match := root.Find("div[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			id, _ := s.Attr("id")
			return strings.Contains(strings.ToLower(id), "content")
		}).First()
		if match.Length() > 0 {
			container = match
		}
	}

	if container != nil {
		if text := paragraphText(container); text != "" {
			return text
		}
		if text := blockText(container); text != "" {
			return text
		}
	}
	bodySel := root.Find("body")
	if bodySel.Length() == 0 {
		bodySel = root
	}
	return blockText(bodySel)
}
