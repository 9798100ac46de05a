// Package worker runs the fetch-and-parse pipeline for a single article task.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/report"
)

// Worker turns a Task into an Outcome. It holds no per-task state and is
// safe to share across goroutines.
type Worker struct {
	fetcher  crawler.Fetcher
	parser   crawler.PageParser
	reporter crawler.Reporter
	logger   *zap.Logger
}

// New constructs a Worker.
func New(fetcher crawler.Fetcher, parser crawler.PageParser, reporter crawler.Reporter, logger *zap.Logger) *Worker {
	if reporter == nil {
		reporter = report.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:  fetcher,
		parser:   parser,
		reporter: reporter,
		logger:   logger,
	}
}

// Process fetches and parses task.URL. total is the number of tasks
// submitted so far and is only used for the progress line. Errors are
// returned inside the Outcome, never raised.
func (w *Worker) Process(ctx context.Context, task crawler.Task, total int) crawler.Outcome {
	w.reporter.Fetching(task.Seq, total, task.URL)

	result := w.fetcher.Fetch(ctx, task.URL)
	if !result.OK() {
		err := result.Err
		if err == nil {
			err = &crawler.FetchError{URL: task.URL, Kind: crawler.KindNetwork, Err: fmt.Errorf("fetch failed without error")}
		}
		w.logger.Debug("article fetch failed",
			zap.Int("seq", task.Seq),
			zap.String("url", task.URL),
			zap.String("kind", string(result.Kind)),
			zap.Int("attempts", result.Attempts),
			zap.Error(err),
		)
		return crawler.Outcome{Task: task, Err: err}
	}

	record, err := w.parser.ParseArticle(result.Body, task.URL)
	if err != nil {
		w.logger.Debug("article parse failed",
			zap.Int("seq", task.Seq),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		return crawler.Outcome{Task: task, Err: err}
	}
	if record.URL == "" {
		record.URL = task.URL
	}
	w.logger.Debug("article parsed",
		zap.Int("seq", task.Seq),
		zap.String("url", task.URL),
		zap.String("title", record.Title),
		zap.Int("attempts", result.Attempts),
	)
	return crawler.Outcome{Task: task, Record: record}
}
