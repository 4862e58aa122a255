package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig bounds the exponential backoff around provider requests.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the standard backoff: 3 retries, 1s initial
// delay doubling up to 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// HTTPError is a non-200 response from the provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed Retry-After header; 0 when absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrorType brands the error with a stable code for trace files.
func (e *HTTPError) ErrorType() string {
	return fmt.Sprintf("http_%d", e.Status)
}

// ParseRetryAfter reads a Retry-After header value, either delay-seconds
// or an HTTP date. Returns 0 for anything unusable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// after is swapped out by tests to skip the real backoff.
var after = time.After

// RetryDo runs fn with exponential backoff on transient failures. A
// server-provided Retry-After longer than the computed delay wins.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxRetries || !retryableRequest(err) {
			return zero, err
		}

		delay := cfg.InitialDelay << attempt
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
			delay = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-after(delay):
		}
	}
}

// retryableRequest reports whether a request-phase failure is worth
// retrying: rate limits, server errors, and transport-level faults.
// Client errors (4xx other than 408/429) never recover on retry.
func retryableRequest(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusRequestTimeout:
			return true
		case httpErr.Status == http.StatusTooManyRequests:
			return true
		case httpErr.Status >= 500:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
