package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL. Failure is reported through FetchResult.Err.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// PageParser turns listing and article pages into URLs and records.
// Implementations must tolerate malformed markup and only return a
// *ParseError when the body is not HTML at all.
type PageParser interface {
	Name() string
	ParseListing(body []byte, baseURL string) ([]string, error)
	ParseArticle(body []byte, url string) (ArticleRecord, error)
	FindNextPageURL(body []byte, baseURL string) (string, bool)
}

// RecordSink persists one article record.
type RecordSink interface {
	Save(ctx context.Context, seq int, record ArticleRecord) error
}

// BatchFinisher is implemented by sinks that write batch-level output once
// every record has been collected.
type BatchFinisher interface {
	Finish(ctx context.Context, summary Summary) error
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Reporter prints operator-facing progress lines.
type Reporter interface {
	Fetching(index, total int, url string)
	Warn(url string, err error)
	Done(summary Summary)
}

// Limiter gates outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Pauser sleeps between retry attempts.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
