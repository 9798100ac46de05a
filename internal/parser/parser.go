// Package parser implements crawler.PageParser on top of goquery. Two
// strategies ship with the harvester: a heuristic parser that guesses
// listing containers, titles and bodies from common class names, and a
// selector-driven parser for sites whose markup is known.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

var errEmptyBody = errors.New("empty body")

// Registry maps parser names to implementations.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]crawler.PageParser
}

// NewRegistry builds a registry holding parsers.
func NewRegistry(parsers ...crawler.PageParser) *Registry {
	r := &Registry{parsers: make(map[string]crawler.PageParser, len(parsers))}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a parser implementation.
func (r *Registry) Register(p crawler.PageParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Name()] = p
}

// Resolve returns a parser by name or an error if it is absent.
func (r *Registry) Resolve(name string) (crawler.PageParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.parsers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("parser %q is not registered (available: %s)", name, strings.Join(r.namesLocked(), ", "))
}

// Names lists registered parser names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadDocument rejects bodies that are not text before handing them to goquery.
func loadDocument(body []byte, url string) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &crawler.ParseError{URL: url, Err: errEmptyBody}
	}
	if contentType := http.DetectContentType(body); !strings.HasPrefix(contentType, "text/") {
		return nil, &crawler.ParseError{URL: url, Err: fmt.Errorf("content is %s, not html", contentType)}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &crawler.ParseError{URL: url, Err: err}
	}
	return doc, nil
}

// withClass returns elements matching tag whose class list has an entry
// containing any of keys (case-insensitive substring match).
func withClass(sel *goquery.Selection, tag string, keys ...string) *goquery.Selection {
	return sel.Find(tag + "[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		for _, c := range strings.Fields(strings.ToLower(class)) {
			for _, key := range keys {
				if strings.Contains(c, strings.ToLower(key)) {
					return true
				}
			}
		}
		return false
	})
}

// inlineText collapses the selection's text onto one line.
func inlineText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// blockText returns every non-empty text node under sel on its own line,
// skipping script and style content.
func blockText(sel *goquery.Selection) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if line := strings.Join(strings.Fields(n.Data), " "); line != "" {
				lines = append(lines, line)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

// paragraphText joins the inline text of every <p> under sel, one per line.
func paragraphText(sel *goquery.Selection) string {
	var parts []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := inlineText(p); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}
