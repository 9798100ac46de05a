// Package dispatcher drives listing pagination, deduplicates discovered
// article URLs and fans article tasks out to a bounded worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/report"
)

const defaultWorkers = 20

// Processor executes one article task.
type Processor interface {
	Process(ctx context.Context, task crawler.Task, total int) crawler.Outcome
}

// Config controls pool size and optional caps.
type Config struct {
	Workers     int
	MaxArticles int
}

// Stats describes one enumeration pass.
type Stats struct {
	ListingPages    int
	ListingFailures int
	Discovered      int
	Duplicates      int
	Submitted       int
}

// Dispatcher owns pagination and the seen set. Run must not be called
// concurrently on the same Dispatcher.
type Dispatcher struct {
	cfg       Config
	fetcher   crawler.Fetcher
	parser    crawler.PageParser
	processor Processor
	reporter  crawler.Reporter
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	parser crawler.PageParser,
	processor Processor,
	reporter crawler.Reporter,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if reporter == nil {
		reporter = report.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		fetcher:   fetcher,
		parser:    parser,
		processor: processor,
		reporter:  reporter,
		logger:    logger,
	}
}

// Run enumerates listing pages on the calling goroutine and submits one task
// per new article URL. Submission blocks while all workers are busy. Every
// outcome is sent on out, which is closed once all tasks have finished.
//
// It returns crawler.ErrSeedUnreachable when the first listing page cannot be
// fetched and crawler.ErrNoArticles when nothing was submitted.
func (d *Dispatcher) Run(ctx context.Context, pages Paginator, out chan<- crawler.Outcome) (Stats, error) {
	var (
		stats     Stats
		submitted atomic.Int64
		group     errgroup.Group
		seen      = newSeenSet()
		visited   = newSeenSet()
	)
	group.SetLimit(d.cfg.Workers)
	finish := func() {
		_ = group.Wait()
		close(out)
		stats.Submitted = int(submitted.Load())
	}

	pageURL := pages.Start()
	for page := 1; pageURL != ""; page++ {
		if ctx.Err() != nil {
			break
		}
		if !visited.add(pageURL) {
			d.logger.Warn("pagination cycle detected", zap.String("url", pageURL), zap.Int("page", page))
			break
		}
		stats.ListingPages++
		d.logger.Info("fetching listing page", zap.Int("page", page), zap.String("url", pageURL))

		result := d.fetcher.Fetch(ctx, pageURL)
		var body []byte
		if !result.OK() {
			stats.ListingFailures++
			d.reporter.Warn(pageURL, result.Err)
			if page == 1 {
				finish()
				return stats, fmt.Errorf("%w: %s: %w", crawler.ErrSeedUnreachable, pageURL, result.Err)
			}
			if !pages.ContinueOnFailure() {
				break
			}
		} else {
			body = result.Body
			if d.submitListing(ctx, &group, &stats, seen, &submitted, pageURL, body, out) {
				d.logger.Info("article cap reached", zap.Int("max_articles", d.cfg.MaxArticles))
				break
			}
		}

		next, ok := pages.Next(page, pageURL, body, d.parser)
		if !ok {
			break
		}
		pageURL = next
	}

	finish()
	d.logger.Info("enumeration finished",
		zap.Int("listing_pages", stats.ListingPages),
		zap.Int("listing_failures", stats.ListingFailures),
		zap.Int("discovered", stats.Discovered),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("submitted", stats.Submitted),
	)
	if stats.Submitted == 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("enumeration canceled: %w", err)
		}
		return stats, crawler.ErrNoArticles
	}
	return stats, nil
}

// submitListing parses one listing body and submits its unseen links. It
// reports whether the article cap has been reached.
func (d *Dispatcher) submitListing(
	ctx context.Context,
	group *errgroup.Group,
	stats *Stats,
	seen *seenSet,
	submitted *atomic.Int64,
	pageURL string,
	body []byte,
	out chan<- crawler.Outcome,
) bool {
	links, err := d.parser.ParseListing(body, pageURL)
	if err != nil {
		d.reporter.Warn(pageURL, err)
		return false
	}
	for _, link := range links {
		if d.capReached(submitted) {
			return true
		}
		stats.Discovered++
		if !seen.add(link) {
			stats.Duplicates++
			continue
		}
		task := crawler.Task{Seq: int(submitted.Add(1)), URL: link}
		group.Go(func() error {
			out <- d.processor.Process(ctx, task, int(submitted.Load()))
			return nil
		})
	}
	return d.capReached(submitted)
}

func (d *Dispatcher) capReached(submitted *atomic.Int64) bool {
	return d.cfg.MaxArticles > 0 && int(submitted.Load()) >= d.cfg.MaxArticles
}

// seenSet is confined to the enumeration goroutine and needs no locking.
type seenSet struct {
	items map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{items: make(map[string]struct{})}
}

// add inserts url and reports whether it was new.
func (s *seenSet) add(url string) bool {
	if _, ok := s.items[url]; ok {
		return false
	}
	s.items[url] = struct{}{}
	return true
}
