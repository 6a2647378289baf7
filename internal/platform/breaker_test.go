package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

func testBreaker(threshold int, cooldown time.Duration) *Breaker {
	return NewBreaker(BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown, HalfOpenMax: 1})
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.Equal(t, BreakerClosed, b.RecordFailure("acc-1"))
	}
	assert.Equal(t, BreakerOpen, b.RecordFailure("acc-1"))

	err := b.Allow("acc-1")
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeCircuitOpen, engErr.Code)
	assert.True(t, engErr.IsRetryable())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := testBreaker(3, time.Minute)

	b.RecordFailure("acc-1")
	b.RecordFailure("acc-1")
	b.RecordSuccess("acc-1")
	assert.Equal(t, BreakerClosed, b.RecordFailure("acc-1"))
	require.NoError(t, b.Allow("acc-1"))
}

func TestBreaker_IsolatedPerAccount(t *testing.T) {
	b := testBreaker(1, time.Minute)

	b.RecordFailure("acc-1")
	require.Error(t, b.Allow("acc-1"))
	require.NoError(t, b.Allow("acc-2"))
}

func TestBreaker_CooldownAllowsProbe(t *testing.T) {
	b := testBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure("acc-1")
	require.Error(t, b.Allow("acc-1"))

	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow("acc-1"))
	assert.Equal(t, BreakerHalfOpen, b.State("acc-1"))

	// Second probe while the first is outstanding is rejected.
	require.Error(t, b.Allow("acc-1"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure("acc-1")
	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow("acc-1"))

	assert.Equal(t, BreakerOpen, b.RecordFailure("acc-1"))
	require.Error(t, b.Allow("acc-1"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := testBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure("acc-1")
	now = now.Add(61 * time.Second)
	require.NoError(t, b.Allow("acc-1"))

	b.RecordSuccess("acc-1")
	assert.Equal(t, BreakerClosed, b.State("acc-1"))
	require.NoError(t, b.Allow("acc-1"))
}

func TestClient_BreakerShortCircuitsAfterFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, creds := testClient(t, srv.URL)
	c.breaker = testBreaker(2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := c.GetFeed(context.Background(), creds)
		require.Error(t, err)
	}
	hitsBefore := hits

	_, err := c.GetFeed(context.Background(), creds)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeCircuitOpen, engErr.Code)
	assert.Equal(t, hitsBefore, hits)
}
