// Package report prints the operator-facing progress stream: one line per
// article fetch, one warning per retry or failure and a closing summary.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

// Console writes progress lines to an io.Writer. It is safe for concurrent use.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w, or stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Fetching prints "[index/total] Fetching: <url>".
func (c *Console) Fetching(index, total int, url string) {
	c.printf("[%d/%d] Fetching: %s\n", index, total, url)
}

// Warn prints "[WARN] <url>: <error>".
func (c *Console) Warn(url string, err error) {
	c.printf("[WARN] %s: %v\n", url, err)
}

// Done prints the final tallies.
func (c *Console) Done(summary crawler.Summary) {
	if summary.PersistFailed > 0 {
		c.printf("Done: %d succeeded, %d failed, %d not persisted (of %d submitted)\n",
			summary.Succeeded, summary.Failed, summary.PersistFailed, summary.Submitted)
		return
	}
	c.printf("Done: %d succeeded, %d failed (of %d submitted)\n",
		summary.Succeeded, summary.Failed, summary.Submitted)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, format, args...)
}

// Nop discards every line.
type Nop struct{}

func (Nop) Fetching(int, int, string) {}
func (Nop) Warn(string, error)        {}
func (Nop) Done(crawler.Summary)      {}
