// Package collyfetcher implements crawler.Fetcher using gocolly with a fixed
// browser header set and linear retry backoff.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/report"
)

const (
	// DefaultUserAgent mimics a desktop Edge browser.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36 Edg/141.0.0.0"
	defaultTimeout = 15 * time.Second
)

// DefaultHeaders returns the header set sent with every request.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"zh-CN,zh;q=0.9,en;q=0.8"},
		"Connection":      {"keep-alive"},
	}
}

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Headers     http.Header
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	policy        *crawler.LinearRetryPolicy
	pauser        crawler.Pauser
	limiter       crawler.Limiter
	reporter      crawler.Reporter
	logger        *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPauser replaces the timer used between attempts.
func WithPauser(p crawler.Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// WithLimiter gates every attempt through a politeness limiter.
func WithLimiter(l crawler.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithReporter sends retry warnings to r.
func WithReporter(r crawler.Reporter) Option {
	return func(f *Fetcher) { f.reporter = r }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithTransport overrides the shared HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// New builds a Fetcher. The header set and retry policy are fixed for its
// lifetime and shared read-only by every concurrent Fetch.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.DetectCharset = true

	f := &Fetcher{
		cfg:           cfg,
		transport:     newHTTPTransport(),
		baseCollector: c,
		policy:        crawler.NewLinearRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase),
		pauser:        crawler.TimerPauser{},
		reporter:      report.Nop{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	// Clones share the backend client, so timeout and transport are set once here.
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(f.transport)
	return f
}

// Fetch retrieves url, retrying network, TLS and 5xx failures with linear
// backoff. It never returns an error; failures are carried in the result.
func (f *Fetcher) Fetch(ctx context.Context, url string) crawler.FetchResult {
	start := time.Now()
	maxAttempts := f.policy.MaxAttempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := crawler.PageRequest{URL: url, Attempt: attempt}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return f.failure(req, start, &crawler.FetchError{URL: url, Kind: crawler.KindCanceled, Err: err})
			}
		}

		status, body, err := f.fetchOnce(ctx, req)
		if err == nil {
			f.logger.Debug("fetched page",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(body)),
			)
			return crawler.FetchResult{
				URL:        url,
				Status:     crawler.StatusSuccess,
				StatusCode: status,
				Body:       body,
				Attempts:   attempt,
				Duration:   time.Since(start),
			}
		}
		lastErr = err

		if ctx.Err() != nil || !f.policy.ShouldRetry(err, attempt) {
			return f.failure(req, start, err)
		}
		delay := f.policy.Backoff(crawler.KindOf(err), attempt)
		f.reporter.Warn(url, fmt.Errorf("attempt %d/%d failed, retrying in %s: %w", attempt, maxAttempts, delay, err))
		f.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
	}
	return f.failure(crawler.PageRequest{URL: url, Attempt: maxAttempts}, start, lastErr)
}

func (f *Fetcher) failure(req crawler.PageRequest, start time.Time, err error) crawler.FetchResult {
	result := crawler.FetchResult{
		URL:      req.URL,
		Status:   crawler.StatusFailure,
		Attempts: req.Attempt,
		Duration: time.Since(start),
		Kind:     crawler.KindOf(err),
		Err:      err,
	}
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		result.StatusCode = fetchErr.StatusCode
	}
	return result
}

// fetchOnce performs a single attempt and returns a classified *crawler.FetchError on failure.
func (f *Fetcher) fetchOnce(ctx context.Context, req crawler.PageRequest) (int, []byte, error) {
	var (
		status int
		body   []byte
		failed int
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &status, &body, &failed)

	if err := f.runCollector(ctx, collector, req.URL); err != nil {
		if ctx.Err() != nil {
			return 0, nil, &crawler.FetchError{URL: req.URL, Kind: crawler.KindCanceled, Err: err}
		}
		return 0, nil, f.classify(req.URL, failed, err)
	}
	return status, body, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	return f.baseCollector.Clone()
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, status *int, body *[]byte, failedStatus *int) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			*failedStatus = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) classify(url string, status int, err error) error {
	if status > 0 {
		return &crawler.FetchError{URL: url, Kind: crawler.KindHTTPStatus, StatusCode: status, Err: err}
	}
	return &crawler.FetchError{URL: url, Kind: crawler.ClassifyTransportError(err), Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
