package crawler

import "time"

// FetchStatus reports whether a fetch produced a usable body.
type FetchStatus string

const (
	// StatusSuccess marks a 2xx response whose body is available.
	StatusSuccess FetchStatus = "success"
	// StatusFailure marks a request that exhausted retries or failed permanently.
	StatusFailure FetchStatus = "failure"
)

// PageRequest is a single listing or article page to retrieve.
type PageRequest struct {
	URL     string
	Attempt int
}

// FetchResult is the value returned by a Fetcher. Failures are carried in
// Err rather than returned separately so tasks can report and continue.
type FetchResult struct {
	URL        string
	Status     FetchStatus
	StatusCode int
	Body       []byte
	Attempts   int
	Duration   time.Duration
	Kind       ErrorKind
	Err        error
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Status == StatusSuccess
}

// ArticleRecord is the structured form of one article page.
type ArticleRecord struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	PublishTime string `json:"publish_time"`
	PublishUnit string `json:"publish_unit"`
	Content     string `json:"content"`
}

// Task is a unit of article work. Seq is assigned at submission time in
// document order and starts at 1.
type Task struct {
	Seq int
	URL string
}

// Outcome is what a worker hands to the collector for one Task.
type Outcome struct {
	Task   Task
	Record ArticleRecord
	Err    error
}

// Failed reports whether the task produced no record.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Failure is one entry of the failure log.
type Failure struct {
	Seq   int    `json:"seq"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Summary holds the final tallies of a batch.
type Summary struct {
	Submitted     int       `json:"submitted"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	PersistFailed int       `json:"persist_failed"`
	Failures      []Failure `json:"failures"`
}
