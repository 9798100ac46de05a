package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies per-URL failures.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindNetwork     ErrorKind = "network"
	KindRequest     ErrorKind = "request"
	KindTLS         ErrorKind = "tls"
	KindHTTPStatus  ErrorKind = "http_status"
	KindParse       ErrorKind = "parse"
	KindPersistence ErrorKind = "persistence"
	KindCanceled    ErrorKind = "canceled"
)

var (
	// ErrSeedUnreachable is returned when the first listing page cannot be fetched.
	ErrSeedUnreachable = errors.New("seed listing page unreachable")
	// ErrNoArticles is returned when enumeration finished without discovering any article.
	ErrNoArticles = errors.New("no articles discovered")
)

// FetchError describes a failed retrieval.
type FetchError struct {
	URL        string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTLS:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// ParseError means the body could not be interpreted as HTML.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed write of one record.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, classifying transport errors
// that have not been wrapped yet.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return KindParse
	}
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return KindPersistence
	}
	return ClassifyTransportError(err)
}

// ClassifyTransportError separates TLS handshake and certificate failures
// and transient connection failures from requests that can never succeed,
// such as an unsupported scheme or a malformed URL.
func ClassifyTransportError(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if isTLSError(err) {
		return KindTLS
	}
	if isTransientNetworkError(err) {
		return KindNetwork
	}
	return KindRequest
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return isTransientNetworkError(err)
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.EPIPE,
}

// isTransientNetworkError matches timeouts, dial and read failures, DNS
// lookups and dropped connections. *url.Error alone does not count: it also
// wraps permanent client errors.
func isTransientNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		for _, transient := range transientErrnos {
			if errno == transient {
				return true
			}
		}
	}
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		netErr net.Error
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		authorityEr x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &verifyErr),
		errors.As(err, &authorityEr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}
