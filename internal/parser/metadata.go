package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	datePattern   = regexp.MustCompile(`(20\d{2}[年/.-]\s*\d{1,2}[月/.-]\s*\d{1,2}日?)`)
	sourcePattern = regexp.MustCompile(`(?:来源|发布单位|发布|供稿|作者|Source|Author)[:：]\s*([^\s|｜]+)`)
	dashRuns      = regexp.MustCompile(`-+`)

	metaClassKeys   = []string{"info", "meta", "source", "about", "subtitle", "extra", "message"}
	metaKeywords    = []string{"来源", "发布时间", "发布单位", "作者"}
	dateReplacement = strings.NewReplacer("年", "-", "月", "-", "日", "", "/", "-", ".", "-", " ", "")
)

// Metadata is the best-effort publish time and unit of an article. Both
// fields are empty when nothing matched.
type Metadata struct {
	PublishTime string
	PublishUnit string
}

// ExtractMetadata scans candidate texts in order and keeps the first date and
// the first source attribution found.
func ExtractMetadata(texts ...string) Metadata {
	var meta Metadata
	for _, text := range texts {
		if meta.PublishTime == "" {
			if m := datePattern.FindStringSubmatch(text); m != nil {
				meta.PublishTime = NormalizeDate(m[1])
			}
		}
		if meta.PublishUnit == "" {
			if m := sourcePattern.FindStringSubmatch(text); m != nil {
				meta.PublishUnit = strings.TrimSpace(m[1])
			}
		}
		if meta.PublishTime != "" && meta.PublishUnit != "" {
			break
		}
	}
	return meta
}

// NormalizeDate rewrites "2024年3月5日" and "2024/03/05" style dates with dashes.
func NormalizeDate(raw string) string {
	out := dateReplacement.Replace(raw)
	out = dashRuns.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

// metadataTexts collects text from nodes that usually carry bylines.
func metadataTexts(doc *goquery.Selection) []string {
	var texts []string
	collect := func(_ int, s *goquery.Selection) {
		if text := inlineText(s); text != "" {
			texts = append(texts, text)
		}
	}
	withClass(doc, "", metaClassKeys...).Each(collect)
	if len(texts) > 0 {
		return texts
	}
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := inlineText(p)
		for _, kw := range metaKeywords {
			if strings.Contains(text, kw) {
				texts = append(texts, text)
				return
			}
		}
	})
	return texts
}
