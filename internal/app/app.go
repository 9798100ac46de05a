// Package app builds the long-lived services of a harvest run from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/article-harvester/internal/clock/system"
	"github.com/JakeFAU/article-harvester/internal/collector"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
	"github.com/JakeFAU/article-harvester/internal/id/uuid"
	"github.com/JakeFAU/article-harvester/internal/parser"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/article-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/article-harvester/internal/report"
	"github.com/JakeFAU/article-harvester/internal/storage"
	"github.com/JakeFAU/article-harvester/internal/storage/gcs"
	"github.com/JakeFAU/article-harvester/internal/storage/local"
	"github.com/JakeFAU/article-harvester/internal/storage/postgres"
	"github.com/JakeFAU/article-harvester/internal/worker"
)

// App holds the wired pipeline and the clients it must release.
type App struct {
	RunID  string
	Parser crawler.PageParser
	Sinks  storage.Fanout

	logger    *zap.Logger
	pages     dispatcher.Paginator
	harvester *harvest.Harvester
	closers   []func() error
}

// Option customizes client construction, mainly so tests can point the
// cloud clients at fakes.
type Option func(*options)

type options struct {
	gcsOpts    []option.ClientOption
	pubsubOpts []option.ClientOption
	reporter   crawler.Reporter
	fetchOpts  []collyfetcher.Option
}

// WithGCSOptions passes client options to the Cloud Storage client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOpts = append(o.gcsOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithReporter replaces the console reporter.
func WithReporter(r crawler.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithFetcherOption forwards an option to the colly fetcher.
func WithFetcherOption(opt collyfetcher.Option) Option {
	return func(o *options) { o.fetchOpts = append(o.fetchOpts, opt) }
}

// New wires every component named by cfg. On error, anything already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{reporter: report.NewConsole(nil)}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("close partially built app", zap.Error(closeErr))
			}
		}
	}()

	a.RunID, err = uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", a.RunID))
	a.logger = logger

	a.Parser, err = buildParser(cfg.Parser)
	if err != nil {
		return nil, err
	}
	a.pages, err = buildPaginator(cfg.Crawl)
	if err != nil {
		return nil, err
	}
	if err = a.buildSinks(ctx, cfg, o); err != nil {
		return nil, err
	}

	fetchOpts := []collyfetcher.Option{
		collyfetcher.WithReporter(o.reporter),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	}
	if interval := cfg.RateInterval(); interval > 0 {
		fetchOpts = append(fetchOpts, collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			Interval: interval,
			Burst:    cfg.Crawl.RateBurst,
		})))
	}
	fetchOpts = append(fetchOpts, o.fetchOpts...)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
	}, fetchOpts...)

	w := worker.New(fetcher, a.Parser, o.reporter, logger.Named("worker"))
	d := dispatcher.New(dispatcher.Config{
		Workers:     cfg.Crawl.Workers,
		MaxArticles: cfg.Crawl.MaxArticles,
	}, fetcher, a.Parser, w, o.reporter, logger.Named("dispatcher"))
	c := collector.New(a.Sinks, o.reporter, logger.Named("collector"))
	a.harvester = harvest.New(d, c, cfg.Crawl.Workers, logger)

	logger.Info("harvester ready",
		zap.String("parser", a.Parser.Name()),
		zap.Int("workers", cfg.Crawl.Workers),
		zap.Int("sinks", len(a.Sinks)),
		zap.String("start", a.pages.Start()),
	)
	return a, nil
}

// Run executes the batch.
func (a *App) Run(ctx context.Context) (harvest.Result, error) {
	start := time.Now()
	result, err := a.harvester.Run(ctx, a.pages)
	a.logger.Info("harvest finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("listing_pages", result.Stats.ListingPages),
		zap.Int("submitted", result.Summary.Submitted),
		zap.Error(err),
	)
	return result, err
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildSinks(ctx context.Context, cfg config.Config, o options) error {
	localSink, err := local.NewRecordSink(local.Config{
		Dir:       cfg.Output.Dir,
		Format:    cfg.Output.Format,
		Batch:     cfg.Output.Batch,
		Aggregate: cfg.Output.Aggregate,
	})
	if err != nil {
		return fmt.Errorf("init local output: %w", err)
	}
	a.Sinks = append(a.Sinks, localSink)

	if cfg.GCS.Enabled {
		client, err := gcsstorage.NewClient(ctx, o.gcsOpts...)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		sink, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix, Batch: cfg.Output.Batch})
		if err != nil {
			return fmt.Errorf("init gcs output: %w", err)
		}
		a.Sinks = append(a.Sinks, sink)
		a.logger.Info("gcs output enabled", zap.String("bucket", cfg.GCS.Bucket))
	}

	hasher := sha256.NewNormalized()
	clock := system.New()

	if cfg.DB.Enabled {
		store, err := postgres.NewArticleStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		}, a.RunID, hasher, clock)
		if err != nil {
			return fmt.Errorf("init postgres output: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.Sinks = append(a.Sinks, store)
		a.logger.Info("postgres output enabled", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID, o.pubsubOpts...)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		notify, err := storage.NewNotifySink(pub, hasher, clock, cfg.PubSub.TopicName, a.RunID)
		if err != nil {
			return fmt.Errorf("init notifications: %w", err)
		}
		a.Sinks = append(a.Sinks, notify)
		a.logger.Info("notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	return nil
}

func buildParser(cfg config.ParserConfig) (crawler.PageParser, error) {
	generic := parser.GenericOptions{
		ArticleMarkers:   cfg.ArticleMarkers,
		PaginationMarker: cfg.PaginationMarker,
	}
	registry := parser.NewRegistry(
		parser.NewGeneric(generic),
		parser.NewNewsList(cfg.Selectors, generic),
	)
	p, err := registry.Resolve(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("select parser: %w", err)
	}
	return p, nil
}

func buildPaginator(cfg config.CrawlConfig) (dispatcher.Paginator, error) {
	if cfg.Template != "" {
		p, err := dispatcher.NewBoundedPaginator(cfg.Template, cfg.FirstPage, cfg.Pages)
		if err != nil {
			return nil, fmt.Errorf("build paginator: %w", err)
		}
		return p, nil
	}
	p, err := dispatcher.NewUnboundedPaginator(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("build paginator: %w", err)
	}
	return p, nil
}
