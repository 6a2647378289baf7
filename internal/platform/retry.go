package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

const (
	// defaultMaxRetries is the max number of retries after the first attempt.
	defaultMaxRetries = 3
	defaultBaseDelay  = 300 * time.Millisecond
	defaultMaxDelay   = 5000 * time.Millisecond
)

// Operation performs one outbound attempt. It must build a fresh request on
// every call so request bodies can be re-sent.
type Operation func(ctx context.Context) (*http.Response, error)

// Retrier wraps outbound calls with bounded exponential-backoff retries.
// State is local to one Execute invocation; a Retrier is safe for concurrent
// use.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetrier creates a Retrier. Non-positive arguments fall back to the
// defaults (3 retries, 300ms base doubling to a 5000ms cap).
func NewRetrier(maxRetries int, baseDelay, maxDelay time.Duration) *Retrier {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &Retrier{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

// RetryableStatus reports whether an HTTP status warrants a retry.
func RetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// retryableFailure classifies one attempt's outcome. A transport failure
// with no response at all is retryable unless the context was cancelled.
func retryableFailure(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		return true
	}
	return RetryableStatus(resp.StatusCode)
}

// Execute runs op, retrying retryable failures up to the configured bound
// with capped exponential backoff. The original terminal outcome is returned
// unchanged; non-retryable failures propagate on first occurrence.
func (r *Retrier) Execute(ctx context.Context, op Operation) (*http.Response, error) {
	backoff := r.baseDelay
	for attempt := 0; ; attempt++ {
		resp, err := op(ctx)
		if err == nil && !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if !retryableFailure(resp, err) || attempt >= r.maxRetries {
			return resp, err
		}

		// The failed response body is dead weight; release the connection.
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		}

		if werr := waitForBackoff(ctx, backoff); werr != nil {
			if err != nil {
				return nil, err
			}
			return nil, schema.NewError(schema.ErrCodeTransient, "retry wait cancelled").WithCause(werr)
		}
		backoff *= 2
		if backoff > r.maxDelay {
			backoff = r.maxDelay
		}
	}
}

// waitForBackoff sleeps for the delay or returns early on context cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
