package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/storage"
)

// Record file formats.
const (
	FormatTXT  = "txt"
	FormatJSON = "json"
)

// Config controls where and how records are written.
type Config struct {
	Dir       string
	Format    string
	Batch     string
	Aggregate bool
}

// RecordSink writes one file per article and, when Aggregate is set, a
// batch-level JSON array once the batch finishes.
type RecordSink struct {
	dir       *Dir
	format    string
	batch     string
	aggregate bool

	mu    sync.Mutex
	saved map[int]crawler.ArticleRecord
}

// NewRecordSink validates cfg and prepares the output directory.
func NewRecordSink(cfg Config) (*RecordSink, error) {
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = FormatTXT
	}
	if format != FormatTXT && format != FormatJSON {
		return nil, fmt.Errorf("unsupported output format %q", cfg.Format)
	}
	if cfg.Aggregate && strings.TrimSpace(cfg.Batch) == "" {
		return nil, fmt.Errorf("batch name is required for aggregate output")
	}
	dir, err := OpenDir(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &RecordSink{
		dir:       dir,
		format:    format,
		batch:     storage.SanitizeFilename(cfg.Batch),
		aggregate: cfg.Aggregate,
		saved:     make(map[int]crawler.ArticleRecord),
	}, nil
}

// Save implements crawler.RecordSink.
func (s *RecordSink) Save(_ context.Context, seq int, record crawler.ArticleRecord) error {
	name := storage.RecordFilename(seq, record.Title, s.format)
	var (
		data []byte
		err  error
	)
	if s.format == FormatJSON {
		data, err = storage.EncodeJSON(record)
	} else {
		data = FormatText(record)
	}
	if err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}
	if _, err := s.dir.WriteFile(name, data); err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}

	if s.aggregate {
		s.mu.Lock()
		s.saved[seq] = record
		s.mu.Unlock()
	}
	return nil
}

// Finish writes <batch>.json with every saved record in sequence order and
// <batch>_failures.json when the batch had failures.
func (s *RecordSink) Finish(_ context.Context, summary crawler.Summary) error {
	if !s.aggregate {
		return nil
	}
	if err := s.writeJSON(s.batch+".json", s.Records()); err != nil {
		return err
	}
	if len(summary.Failures) == 0 {
		return nil
	}
	return s.writeJSON(s.batch+"_failures.json", summary.Failures)
}

// Records returns the saved records ordered by sequence index.
func (s *RecordSink) Records() []crawler.ArticleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]int, 0, len(s.saved))
	for seq := range s.saved {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	out := make([]crawler.ArticleRecord, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, s.saved[seq])
	}
	return out
}

func (s *RecordSink) writeJSON(name string, v any) error {
	data, err := storage.EncodeJSON(v)
	if err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}
	if _, err := s.dir.WriteFile(name, data); err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}
	return nil
}

// FormatText renders the plain-text record layout.
func FormatText(record crawler.ArticleRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "标题：%s\n", record.Title)
	fmt.Fprintf(&b, "发布时间：%s\n", record.PublishTime)
	fmt.Fprintf(&b, "发布单位：%s\n", record.PublishUnit)
	b.WriteString("正文：\n")
	b.WriteString(record.Content)
	return []byte(b.String())
}
