// Package harvest runs one batch: enumeration and article work on the
// dispatcher side, persistence and tallies on the collector side.
package harvest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/collector"
	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/dispatcher"
)

// Result is what a finished batch reports.
type Result struct {
	Stats   dispatcher.Stats
	Summary crawler.Summary
}

// Harvester connects a Dispatcher to a Collector through a buffered
// outcome channel.
type Harvester struct {
	dispatcher *dispatcher.Dispatcher
	collector  *collector.Collector
	buffer     int
	logger     *zap.Logger
}

// New creates a Harvester. buffer is the outcome channel capacity; 0 gives
// an unbuffered hand-off.
func New(d *dispatcher.Dispatcher, c *collector.Collector, buffer int, logger *zap.Logger) *Harvester {
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{dispatcher: d, collector: c, buffer: buffer, logger: logger}
}

// Run processes one batch. Outcomes are drained while enumeration is still
// running, so results from early pages are persisted before later pages
// are fetched.
//
// When nothing could be submitted (unreachable seed or no articles) the
// dispatcher error is returned and batch output is skipped. Otherwise the
// batch is finished even if ctx was canceled, so partial results are kept.
func (h *Harvester) Run(ctx context.Context, pages dispatcher.Paginator) (Result, error) {
	outcomes := make(chan crawler.Outcome, h.buffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		h.collector.Drain(ctx, outcomes)
	}()

	stats, err := h.dispatcher.Run(ctx, pages, outcomes)
	<-drained

	result := Result{Stats: stats}
	if err != nil {
		if errors.Is(err, crawler.ErrSeedUnreachable) || errors.Is(err, crawler.ErrNoArticles) || stats.Submitted == 0 {
			h.logger.Error("batch aborted", zap.Error(err))
			return result, err
		}
		h.logger.Warn("enumeration ended early", zap.Error(err))
	}

	summary, finishErr := h.collector.Finish(context.WithoutCancel(ctx), stats.Submitted)
	result.Summary = summary
	if finishErr != nil {
		return result, finishErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}
