package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"netdiag-mcp/internal/types"
)

// Transport-level retry parameters. Retries apply to metadata fetches
// (trace, locations); measurement transfers run once so retries cannot
// skew timing.
const (
	retryAttempts = 3
	retryBase     = time.Second
	retryFactor   = 2
	retryCap      = 10 * time.Second
)

// retryableMarkers are matched as substrings of the error text, mirroring
// the upstream client's error vocabulary.
var retryableMarkers = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ENOTFOUND",
	"ECONNREFUSED",
	"NETWORK_ERROR",
	"TIMEOUT_ERROR",
	"connection reset",
	"connection refused",
	"no such host",
}

// isRetryable classifies transient transport failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re *types.RetryableError
	if errors.As(err, &re) {
		return true
	}
	var pe *types.ProbeError
	if errors.As(err, &pe) && pe.Retryable {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// A connection torn down mid-exchange surfaces as EOF in Go's client.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to retryAttempts times with exponential backoff.
// Non-retryable errors and context expiry surface immediately.
func (c *HTTPClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := retryBase

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || timedOut(ctx, err) || attempt == retryAttempts {
			break
		}

		slog.Debug("probe fetch failed, retrying", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= retryFactor
		if delay > retryCap {
			delay = retryCap
		}
	}
	return lastErr
}
