package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/worker"
)

// fakeSite serves listing pages and articles from memory.
type fakeSite struct {
	mu       sync.Mutex
	listings map[string][]string
	next     map[string]string
	failing  map[string]bool
	calls    map[string]int
	visits   []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		listings: map[string][]string{},
		next:     map[string]string{},
		failing:  map[string]bool{},
		calls:    map[string]int{},
	}
}

func (s *fakeSite) Fetch(_ context.Context, url string) crawler.FetchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	if _, ok := s.listings[url]; ok {
		s.visits = append(s.visits, url)
	}
	if s.failing[url] {
		err := &crawler.FetchError{URL: url, Kind: crawler.KindHTTPStatus, StatusCode: 503}
		return crawler.FetchResult{URL: url, Status: crawler.StatusFailure, Kind: crawler.KindHTTPStatus, Err: err}
	}
	return crawler.FetchResult{URL: url, Status: crawler.StatusSuccess, Body: []byte(url)}
}

func (s *fakeSite) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *fakeSite) listingVisits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// fakeParser treats the body as the page URL and looks it up in the site.
type fakeParser struct {
	site *fakeSite
}

func (p *fakeParser) Name() string { return "fake" }

func (p *fakeParser) ParseListing(body []byte, _ string) ([]string, error) {
	return p.site.listings[string(body)], nil
}

func (p *fakeParser) ParseArticle(body []byte, url string) (crawler.ArticleRecord, error) {
	return crawler.ArticleRecord{URL: url, Title: "title of " + string(body)}, nil
}

func (p *fakeParser) FindNextPageURL(body []byte, _ string) (string, bool) {
	next, ok := p.site.next[string(body)]
	return next, ok
}

func runDispatcher(t *testing.T, site *fakeSite, cfg Config, pages Paginator) (Stats, []crawler.Outcome, error) {
	t.Helper()
	parser := &fakeParser{site: site}
	d := New(cfg, site, parser, worker.New(site, parser, nil, zap.NewNop()), nil, zap.NewNop())

	out := make(chan crawler.Outcome)
	var outcomes []crawler.Outcome
	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range out {
			outcomes = append(outcomes, o)
		}
	}()
	stats, err := d.Run(context.Background(), pages, out)
	<-done
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Task.Seq < outcomes[j].Task.Seq })
	return stats, outcomes, err
}

func bounded(t *testing.T, pages int) *BoundedPaginator {
	t.Helper()
	p, err := NewBoundedPaginator("https://site/list_{page}", "", pages)
	require.NoError(t, err)
	return p
}

func unbounded(t *testing.T, seed string) *UnboundedPaginator {
	t.Helper()
	p, err := NewUnboundedPaginator(seed)
	require.NoError(t, err)
	return p
}

func urls(outcomes []crawler.Outcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Task.URL)
	}
	return out
}

func TestDispatcherDedupSubmitsDistinctURLs(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"a", "b", "c"}
	site.listings["https://site/list_2"] = []string{"b", "d", "a"}
	site.listings["https://site/list_3"] = []string{"e", "d", "c"}

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 4}, bounded(t, 3))
	require.NoError(t, err)

	assert.Equal(t, 9, stats.Discovered)
	assert.Equal(t, 4, stats.Duplicates)
	assert.Equal(t, 5, stats.Submitted)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, urls(outcomes))
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, site.callCount(u), "article %s fetched once", u)
	}
}

func TestDispatcherAssignsSequenceInDocumentOrder(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"x", "y", "x", "z"}

	_, outcomes, err := runDispatcher(t, site, Config{Workers: 3}, bounded(t, 1))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, want := range []string{"x", "y", "z"} {
		assert.Equal(t, i+1, outcomes[i].Task.Seq)
		assert.Equal(t, want, outcomes[i].Task.URL)
	}
}

func TestDispatcherScenarioDuplicateAndFailure(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/seed"] = []string{"A", "B", "A", "C"}
	site.failing["B"] = true

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 2}, unbounded(t, "https://site/seed"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Submitted)
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[0].Failed())
	assert.True(t, outcomes[1].Failed())
	assert.Equal(t, "B", outcomes[1].Task.URL)
	assert.False(t, outcomes[2].Failed())
}

func TestDispatcherUnboundedFollowsChain(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	for i := 1; i <= 5; i++ {
		page := fmt.Sprintf("https://site/p%d", i)
		site.listings[page] = []string{fmt.Sprintf("art-%d", i)}
		if i < 5 {
			site.next[page] = fmt.Sprintf("https://site/p%d", i+1)
		}
	}

	stats, _, err := runDispatcher(t, site, Config{Workers: 2}, unbounded(t, "https://site/p1"))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ListingPages)
	assert.Len(t, site.listingVisits(), 5)
	assert.Equal(t, 5, stats.Submitted)
}

func TestDispatcherUnboundedStopsOnCycle(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/p1"] = []string{"a"}
	site.listings["https://site/p2"] = []string{"b"}
	site.listings["https://site/p3"] = []string{"c"}
	site.next["https://site/p1"] = "https://site/p2"
	site.next["https://site/p2"] = "https://site/p3"
	site.next["https://site/p3"] = "https://site/p1"

	done := make(chan struct{})
	var stats Stats
	var err error
	go func() {
		defer close(done)
		stats, _, err = runDispatcher(t, site, Config{Workers: 2}, unbounded(t, "https://site/p1"))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pagination did not terminate on cycle")
	}
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ListingPages)
	assert.Equal(t, []string{"https://site/p1", "https://site/p2", "https://site/p3"}, site.listingVisits())
}

func TestDispatcherBoundedSkipsFailedListing(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"a"}
	site.listings["https://site/list_2"] = []string{"b"}
	site.listings["https://site/list_3"] = []string{"c"}
	site.failing["https://site/list_2"] = true

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 2}, bounded(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ListingFailures)
	assert.Equal(t, []string{"a", "c"}, urls(outcomes))
}

func TestDispatcherUnboundedHaltsOnFailedListing(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/p1"] = []string{"a"}
	site.listings["https://site/p2"] = []string{"b"}
	site.listings["https://site/p3"] = []string{"c"}
	site.next["https://site/p1"] = "https://site/p2"
	site.next["https://site/p2"] = "https://site/p3"
	site.failing["https://site/p2"] = true

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 2}, unbounded(t, "https://site/p1"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ListingPages)
	assert.Equal(t, []string{"a"}, urls(outcomes))
}

func TestDispatcherSeedUnreachableIsFatal(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"a"}
	site.listings["https://site/list_2"] = []string{"b"}
	site.failing["https://site/list_1"] = true

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 2}, bounded(t, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrSeedUnreachable))
	assert.Zero(t, stats.Submitted)
	assert.Empty(t, outcomes)
	assert.Zero(t, site.callCount("https://site/list_2"))
}

func TestDispatcherNoArticlesIsFatal(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = nil

	_, _, err := runDispatcher(t, site, Config{Workers: 2}, bounded(t, 1))
	require.ErrorIs(t, err, crawler.ErrNoArticles)
}

func TestDispatcherMaxArticlesStopsEnumeration(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"a", "b", "c"}
	site.listings["https://site/list_2"] = []string{"d"}

	stats, outcomes, err := runDispatcher(t, site, Config{Workers: 2, MaxArticles: 2}, bounded(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Submitted)
	assert.Equal(t, []string{"a", "b"}, urls(outcomes))
	assert.Zero(t, site.callCount("https://site/list_2"))
}

// gatedProcessor blocks every task until released and tracks concurrency.
type gatedProcessor struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
	started  atomic.Int32
}

func (p *gatedProcessor) Process(_ context.Context, task crawler.Task, _ int) crawler.Outcome {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.started.Add(1)
	<-p.release
	p.inFlight.Add(-1)
	return crawler.Outcome{Task: task}
}

func TestDispatcherBoundsConcurrencyAndBlocksSubmission(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.listings["https://site/list_1"] = []string{"1", "2", "3", "4", "5", "6"}
	proc := &gatedProcessor{release: make(chan struct{})}
	d := New(Config{Workers: 2}, site, &fakeParser{site: site}, proc, nil, zap.NewNop())

	out := make(chan crawler.Outcome, 10)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, err := d.Run(context.Background(), bounded(t, 1), out)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return proc.started.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), proc.started.Load(), "submission must block while the pool is full")

	close(proc.release)
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not finish")
	}
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	assert.Len(t, out, 6)
}

func TestNewBoundedPaginatorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBoundedPaginator("https://site/list", "", 3)
	require.Error(t, err)
	_, err = NewBoundedPaginator("https://site/list_{page}", "", 0)
	require.Error(t, err)

	p, err := NewBoundedPaginator("https://site/?jkkp_{page}/", "https://site/?jkkp/", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://site/?jkkp/", p.Start())
	next, ok := p.Next(1, p.Start(), nil, nil)
	require.True(t, ok)
	assert.Equal(t, "https://site/?jkkp_2/", next)
	_, ok = p.Next(3, "", nil, nil)
	assert.False(t, ok)
}

func TestNewUnboundedPaginatorRequiresSeed(t *testing.T) {
	t.Parallel()

	_, err := NewUnboundedPaginator("")
	require.Error(t, err)
}
