package dispatcher

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// Paginator yields listing page URLs. body is nil when the current page
// could not be fetched.
type Paginator interface {
	Start() string
	Next(page int, current string, body []byte, parser crawler.PageParser) (string, bool)
	// ContinueOnFailure reports whether a failed listing page is skipped
	// (true) or ends pagination (false).
	ContinueOnFailure() bool
}

// BoundedPaginator walks a known number of pages built from a numeric template.
type BoundedPaginator struct {
	firstPage string
	template  string
	pages     int
}

// NewBoundedPaginator validates the template and page count. firstPage, when
// set, replaces the template for page 1 (many sites serve page 1 at a bare URL).
func NewBoundedPaginator(template, firstPage string, pages int) (*BoundedPaginator, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("page count must be > 0, got %d", pages)
	}
	if _, err := crawler.ExpandTemplate(template, 1); err != nil {
		return nil, err
	}
	return &BoundedPaginator{firstPage: firstPage, template: template, pages: pages}, nil
}

// Start returns the URL of page 1.
func (b *BoundedPaginator) Start() string {
	return b.pageURL(1)
}

// Next returns the URL of page+1 until the page count is reached.
func (b *BoundedPaginator) Next(page int, _ string, _ []byte, _ crawler.PageParser) (string, bool) {
	if page >= b.pages {
		return "", false
	}
	return b.pageURL(page + 1), true
}

// ContinueOnFailure is true: later pages do not depend on earlier ones.
func (b *BoundedPaginator) ContinueOnFailure() bool { return true }

func (b *BoundedPaginator) pageURL(page int) string {
	if page == 1 && b.firstPage != "" {
		return b.firstPage
	}
	// The template was validated in the constructor.
	url, _ := crawler.ExpandTemplate(b.template, page)
	return url
}

// UnboundedPaginator follows "next page" links from a seed URL.
type UnboundedPaginator struct {
	seed string
}

// NewUnboundedPaginator builds a paginator starting at seed.
func NewUnboundedPaginator(seed string) (*UnboundedPaginator, error) {
	if seed == "" {
		return nil, errors.New("seed url is required")
	}
	return &UnboundedPaginator{seed: seed}, nil
}

// Start returns the seed URL.
func (u *UnboundedPaginator) Start() string { return u.seed }

// Next asks the parser for the next-page link of the fetched body.
func (u *UnboundedPaginator) Next(_ int, current string, body []byte, parser crawler.PageParser) (string, bool) {
	if body == nil || parser == nil {
		return "", false
	}
	return parser.FindNextPageURL(body, current)
}

// ContinueOnFailure is false: a missing page has no next link to follow.
func (u *UnboundedPaginator) ContinueOnFailure() bool { return false }
