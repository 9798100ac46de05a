// Package storage holds the pieces shared by every record sink: the
// per-record filename scheme, a fan-out sink and the notification sink.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

const (
	maxTitleRunes   = 80
	untitled        = "untitled"
	illegalFileChar = `\/:*?"<>|`
)

// SanitizeFilename makes title safe to use as a file name on every common
// filesystem. The result depends only on the input.
func SanitizeFilename(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalFileChar, r) || r < 0x20 {
			return '_'
		}
		return r
	}, title)
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > maxTitleRunes {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxTitleRunes]))
	}
	if cleaned == "" {
		return untitled
	}
	return cleaned
}

// RecordFilename returns "<NN>_<sanitized title>.<ext>". The sequence prefix
// keeps names unique within a batch even when titles repeat.
func RecordFilename(seq int, title, ext string) string {
	return fmt.Sprintf("%02d_%s.%s", seq, SanitizeFilename(title), strings.TrimPrefix(ext, "."))
}

// EncodeJSON renders v as indented JSON without escaping HTML or
// non-ASCII characters.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// Fanout forwards every record to each sink in order. A failing sink does
// not stop the others; all errors are joined.
type Fanout []crawler.RecordSink

// Save implements crawler.RecordSink.
func (f Fanout) Save(ctx context.Context, seq int, record crawler.ArticleRecord) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Save(ctx, seq, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finish implements crawler.BatchFinisher for the sinks that support it.
func (f Fanout) Finish(ctx context.Context, summary crawler.Summary) error {
	var errs []error
	for _, sink := range f {
		finisher, ok := sink.(crawler.BatchFinisher)
		if !ok {
			continue
		}
		if err := finisher.Finish(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases any sink that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		if closer, ok := sink.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
