// Package memory keeps article records in memory for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// ErrInjected is returned by Save for sequence numbers passed to FailOn.
var ErrInjected = errors.New("injected save failure")

// RecordSink implements crawler.RecordSink and crawler.BatchFinisher.
type RecordSink struct {
	mu       sync.RWMutex
	records  map[int]crawler.ArticleRecord
	failOn   map[int]struct{}
	finished []crawler.Summary
}

// NewRecordSink creates an empty sink.
func NewRecordSink() *RecordSink {
	return &RecordSink{
		records: make(map[int]crawler.ArticleRecord),
		failOn:  make(map[int]struct{}),
	}
}

// FailOn makes Save fail for the given sequence numbers.
func (s *RecordSink) FailOn(seqs ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		s.failOn[seq] = struct{}{}
	}
}

// Save stores a copy of record under seq.
func (s *RecordSink) Save(_ context.Context, seq int, record crawler.ArticleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, fail := s.failOn[seq]; fail {
		return fmt.Errorf("save %d: %w", seq, ErrInjected)
	}
	s.records[seq] = record
	return nil
}

// Finish records the summary it was given.
func (s *RecordSink) Finish(_ context.Context, summary crawler.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, summary)
	return nil
}

// Records returns the stored records in sequence order.
func (s *RecordSink) Records() []crawler.ArticleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seqs := make([]int, 0, len(s.records))
	for seq := range s.records {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	out := make([]crawler.ArticleRecord, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, s.records[seq])
	}
	return out
}

// Summaries returns every summary passed to Finish.
func (s *RecordSink) Summaries() []crawler.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Summary(nil), s.finished...)
}
