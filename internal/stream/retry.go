package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/runtime"
)

// Stream-open retry policy. Only the open phase retries; once a source is
// handed out its failures belong to the turn.
const (
	MaxRetries        = 3
	initialRetryDelay = time.Second
	maxRetryDelay     = 10 * time.Second
)

// RetryNotice reports one upcoming retry so the caller can trace it and
// tell the client. A non-nil return aborts the loop.
type RetryNotice func(attempt int, delay time.Duration, err error) error

// after is swapped out by tests to skip the real backoff.
var after = time.After

// OpenWithRetry opens the runtime stream, backing off exponentially on
// connection-class failures.
func OpenWithRetry(ctx context.Context, tp runtime.Transport, prompt string, opts runtime.Options, notify RetryNotice) (runtime.Source, error) {
	for attempt := 1; ; attempt++ {
		src, err := tp.Open(ctx, prompt, opts)
		if err == nil {
			return src, nil
		}
		if !Retryable(err) || attempt > MaxRetries {
			return nil, err
		}

		delay := initialRetryDelay << (attempt - 1)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		if notify != nil {
			if nerr := notify(attempt, delay, err); nerr != nil {
				return nil, nerr
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-after(delay):
		}
	}
}

// Retryable reports whether err is a connection-class failure worth another
// attempt: timeouts, refused or reset connections, truncated reads. A
// canceled context is the caller leaving and never retries.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
