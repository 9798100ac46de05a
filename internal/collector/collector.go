// Package collector drains task outcomes in completion order, persists the
// successful records and keeps the failure log and tallies for the batch.
package collector

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/report"
)

// Collector is safe for concurrent use, although Drain normally runs on a
// single goroutine.
type Collector struct {
	sink     crawler.RecordSink
	reporter crawler.Reporter
	logger   *zap.Logger

	mu            sync.Mutex
	succeeded     int
	failed        int
	persistFailed int
	failures      []crawler.Failure
}

// New creates a Collector writing records to sink.
func New(sink crawler.RecordSink, reporter crawler.Reporter, logger *zap.Logger) *Collector {
	if reporter == nil {
		reporter = report.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{sink: sink, reporter: reporter, logger: logger}
}

// Drain handles outcomes until the channel is closed.
func (c *Collector) Drain(ctx context.Context, outcomes <-chan crawler.Outcome) {
	for outcome := range outcomes {
		c.Handle(ctx, outcome)
	}
}

// Handle records one outcome. Neither task failures nor write failures stop
// the batch.
func (c *Collector) Handle(ctx context.Context, outcome crawler.Outcome) {
	if outcome.Failed() {
		c.reporter.Warn(outcome.Task.URL, outcome.Err)
		c.logger.Warn("article failed",
			zap.Int("seq", outcome.Task.Seq),
			zap.String("url", outcome.Task.URL),
			zap.String("kind", string(crawler.KindOf(outcome.Err))),
			zap.Error(outcome.Err),
		)
		c.mu.Lock()
		c.failed++
		c.failures = append(c.failures, crawler.Failure{
			Seq:   outcome.Task.Seq,
			URL:   outcome.Task.URL,
			Kind:  string(crawler.KindOf(outcome.Err)),
			Error: outcome.Err.Error(),
		})
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.succeeded++
	c.mu.Unlock()

	if c.sink == nil {
		return
	}
	if err := c.sink.Save(ctx, outcome.Task.Seq, outcome.Record); err != nil {
		var persistErr *crawler.PersistenceError
		if !errors.As(err, &persistErr) {
			err = &crawler.PersistenceError{Path: outcome.Task.URL, Err: err}
		}
		c.reporter.Warn(outcome.Task.URL, err)
		c.logger.Error("persist article failed",
			zap.Int("seq", outcome.Task.Seq),
			zap.String("url", outcome.Task.URL),
			zap.Error(err),
		)
		c.mu.Lock()
		c.persistFailed++
		c.mu.Unlock()
		return
	}
	c.logger.Debug("article saved", zap.Int("seq", outcome.Task.Seq), zap.String("title", outcome.Record.Title))
}

// Summary returns the tallies so far with the failure log sorted by sequence.
func (c *Collector) Summary(submitted int) crawler.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	failures := append([]crawler.Failure(nil), c.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Seq < failures[j].Seq })
	return crawler.Summary{
		Submitted:     submitted,
		Succeeded:     c.succeeded,
		Failed:        c.failed,
		PersistFailed: c.persistFailed,
		Failures:      failures,
	}
}

// Finish lets batch-level sinks write their output and prints the summary
// line. A finisher error is returned but the summary is always complete.
func (c *Collector) Finish(ctx context.Context, submitted int) (crawler.Summary, error) {
	summary := c.Summary(submitted)
	var err error
	if finisher, ok := c.sink.(crawler.BatchFinisher); ok {
		if err = finisher.Finish(ctx, summary); err != nil {
			c.logger.Error("finish batch output failed", zap.Error(err))
		}
	}
	c.reporter.Done(summary)
	c.logger.Info("batch complete",
		zap.Int("submitted", summary.Submitted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("persist_failed", summary.PersistFailed),
	)
	return summary, err
}
