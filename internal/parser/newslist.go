package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// NewsListName is the registry name of the selector-driven parser.
const NewsListName = "newslist"

// Selectors names the CSS anchors of a known site layout.
type Selectors struct {
	ListingLinks string `mapstructure:"listing_links"`
	NextPage     string `mapstructure:"next_page"`
	Header       string `mapstructure:"header"`
	Title        string `mapstructure:"title"`
	Info         string `mapstructure:"info"`
	Content      string `mapstructure:"content"`
}

// DefaultSelectors matches the "newsList / newsShowTitle / maximg" layout
// used by many Chinese CMS templates.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingLinks: ".newsList a",
		Header:       "div.newsShowTitle",
		Title:        "p",
		Info:         "div",
		Content:      "#maximg",
	}
}

// NewsList extracts pages with fixed selectors and falls back to the
// heuristic parser for anything the selectors miss.
type NewsList struct {
	sel      Selectors
	fallback *Generic
}

// NewNewsList builds a selector parser. Empty selector fields take defaults.
func NewNewsList(sel Selectors, fallback GenericOptions) *NewsList {
	def := DefaultSelectors()
	if sel.ListingLinks == "" {
		sel.ListingLinks = def.ListingLinks
	}
	if sel.Header == "" {
		sel.Header = def.Header
	}
	if sel.Title == "" {
		sel.Title = def.Title
	}
	if sel.Info == "" {
		sel.Info = def.Info
	}
	if sel.Content == "" {
		sel.Content = def.Content
	}
	return &NewsList{sel: sel, fallback: NewGeneric(fallback)}
}

// Name implements crawler.PageParser.
func (n *NewsList) Name() string { return NewsListName }

// ParseListing returns every link under the listing selector in document order.
func (n *NewsList) ParseListing(body []byte, baseURL string) ([]string, error) {
	doc, err := loadDocument(body, baseURL)
	if err != nil {
		return nil, err
	}
	links := doc.Find(n.sel.ListingLinks)
	if links.Length() == 0 {
		return n.fallback.listingLinks(doc.Selection, baseURL), nil
	}
	var urls []string
	links.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if abs, ok := crawler.ResolveURL(baseURL, href); ok {
			urls = append(urls, abs)
		}
	})
	return urls, nil
}

// FindNextPageURL uses the configured selector when set, else the heuristics.
func (n *NewsList) FindNextPageURL(body []byte, baseURL string) (string, bool) {
	doc, err := loadDocument(body, baseURL)
	if err != nil {
		return "", false
	}
	if n.sel.NextPage != "" {
		if href, ok := doc.Find(n.sel.NextPage).First().Attr("href"); ok {
			return crawler.ResolveURL(baseURL, href)
		}
		return "", false
	}
	return findNextPage(doc.Selection, baseURL, n.fallback.opts.PaginationMarker)
}

// ParseArticle reads the header block for title and byline and the content
// block for the body, filling gaps from the heuristic parser.
func (n *NewsList) ParseArticle(body []byte, url string) (crawler.ArticleRecord, error) {
	doc, err := loadDocument(body, url)
	if err != nil {
		return crawler.ArticleRecord{}, err
	}
	header := doc.Find(n.sel.Header).First()
	content := doc.Find(n.sel.Content).First()
	if header.Length() == 0 && content.Length() == 0 {
		return genericArticle(doc.Selection, url), nil
	}

	record := crawler.ArticleRecord{URL: url}
	record.Title = inlineText(header.Find(n.sel.Title).First())
	info := inlineText(header.Find(n.sel.Info).First())
	meta := ExtractMetadata(info)
	record.PublishTime = meta.PublishTime
	record.PublishUnit = meta.PublishUnit
	if content.Length() > 0 {
		record.Content = strings.TrimSpace(blockText(content))
	}

	if record.Title == "" {
		record.Title = genericTitle(doc.Selection)
	}
	if record.Content == "" {
		record.Content = genericContent(doc.Selection)
	}
	if record.PublishTime == "" && record.PublishUnit == "" {
		meta = ExtractMetadata(metadataTexts(doc.Selection)...)
		record.PublishTime = meta.PublishTime
		record.PublishUnit = meta.PublishUnit
	}
	return record, nil
}
