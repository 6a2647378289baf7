package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier() *Retrier {
	return NewRetrier(3, time.Millisecond, 5*time.Millisecond)
}

func respWithStatus(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	resp, err := fastRetrier().Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls < 3 {
			return respWithStatus(500), nil
		}
		return respWithStatus(200), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestExecute_NonRetryableStatusPropagatesImmediately(t *testing.T) {
	calls := 0
	resp, err := fastRetrier().Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return respWithStatus(404), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesOn429(t *testing.T) {
	calls := 0
	resp, err := fastRetrier().Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return respWithStatus(429), nil
		}
		return respWithStatus(200), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestExecute_ExhaustsRetriesAndReturnsOriginalError(t *testing.T) {
	sentinel := errors.New("connection refused")
	calls := 0
	_, err := fastRetrier().Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls) // first attempt + 3 retries
}

func TestExecute_ContextCancelledNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := fastRetrier().Execute(ctx, func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(503))
	assert.True(t, RetryableStatus(429))
	assert.False(t, RetryableStatus(404))
	assert.False(t, RetryableStatus(400))
	assert.False(t, RetryableStatus(200))
}
