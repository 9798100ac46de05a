package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ResolveURL resolves href against base and drops the fragment. It returns
// false for empty, fragment-only, javascript: and non-HTTP links.
func ResolveURL(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

// ExpandTemplate substitutes page into a listing URL template. Both "{page}"
// and a single literal "%d" are accepted; the template is never used as a
// format string, so percent-encoded segments pass through untouched.
func ExpandTemplate(template string, page int) (string, error) {
	n := strconv.Itoa(page)
	switch {
	case strings.Contains(template, "{page}"):
		return strings.ReplaceAll(template, "{page}", n), nil
	case strings.Count(template, "%d") == 1:
		return strings.Replace(template, "%d", n, 1), nil
	default:
		return "", fmt.Errorf("template %q has no page placeholder", template)
	}
}

// Host returns the lowercased host of raw or "unknown".
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
