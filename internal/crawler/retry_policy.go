package crawler

import (
	"context"
	"errors"
	"time"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = time.Second
	defaultTLSFactor   = 1.5
)

// LinearRetryPolicy waits base*attempt between attempts, stretched by
// TLSFactor for TLS failures.
type LinearRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	tlsFactor   float64
}

// NewLinearRetryPolicy builds a policy. Non-positive values fall back to
// 4 attempts and a one second base.
func NewLinearRetryPolicy(maxAttempts int, baseDelay time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = defaultBaseDelay
	}
	return &LinearRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		tlsFactor:   defaultTLSFactor,
	}
}

// MaxAttempts returns the total number of attempts allowed per URL.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt follows attempt (1-based).
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsRetryable(err)
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p *LinearRetryPolicy) Backoff(kind ErrorKind, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.baseDelay * time.Duration(attempt)
	if kind == KindTLS {
		delay = time.Duration(float64(delay) * p.tlsFactor)
	}
	return delay
}

// Schedule lists every wait a URL failing with kind would incur before the
// policy gives up.
func (p *LinearRetryPolicy) Schedule(kind ErrorKind) []time.Duration {
	out := make([]time.Duration, 0, p.maxAttempts-1)
	for attempt := 1; attempt < p.maxAttempts; attempt++ {
		out = append(out, p.Backoff(kind, attempt))
	}
	return out
}
