package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

func testJob(actionType schema.ActionType) *schema.ExecutionJob {
	return &schema.ExecutionJob{
		AccountID:     "acc-1",
		CorrelationID: "run-1",
		Action:        schema.Action{Type: actionType},
	}
}

func TestEnqueueResolvesResult(t *testing.T) {
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		return map[string]any{"ok": true}, nil
	}))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionGetFeed))
	require.NoError(t, err)

	result, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestRetryableErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		if calls.Add(1) < 3 {
			return nil, schema.NewError(schema.ErrCodeTransient, "upstream hiccup")
		}
		return "done", nil
	}), WithBackoff(time.Millisecond))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionLikeCast))
	require.NoError(t, err)

	result, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		calls.Add(1)
		return nil, schema.NewError(schema.ErrCodeTransient, "still down")
	}), WithAttempts(3), WithBackoff(time.Millisecond))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionLikeCast))
	require.NoError(t, err)

	_, err = h.Result()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTransient, schema.CodeOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeterministicErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		calls.Add(1)
		return nil, schema.NewError(schema.ErrCodeValidation, "bad config")
	}), WithBackoff(time.Millisecond))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionDelay))
	require.NoError(t, err)

	_, err = h.Result()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	var mu sync.Mutex
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		n := active.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}), WithPoolSize(2))
	defer q.Shutdown()

	handles := make([]*Handle, 0, 8)
	for i := 0; i < 8; i++ {
		h, err := q.Enqueue(context.Background(), testJob(schema.ActionDelay))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Result()
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPanicResolvesHandle(t *testing.T) {
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		panic("boom")
	}))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionGetFeed))
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle not resolved after processor panic")
	}
	_, err = h.Result()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "panicked")
}

func TestPanicReleasesWorkerSlot(t *testing.T) {
	var calls atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return "ok", nil
	}), WithPoolSize(1))
	defer q.Shutdown()

	h1, err := q.Enqueue(context.Background(), testJob(schema.ActionGetFeed))
	require.NoError(t, err)
	_, err = h1.Result()
	require.Error(t, err)

	h2, err := q.Enqueue(context.Background(), testJob(schema.ActionGetFeed))
	require.NoError(t, err)
	result, err := h2.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestStatsCountOutcomes(t *testing.T) {
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		switch job.Action.Type {
		case schema.ActionGetFeed:
			return "ok", nil
		case schema.ActionDelay:
			panic("boom")
		default:
			return nil, schema.NewError(schema.ErrCodeValidation, "bad config")
		}
	}))

	for _, at := range []schema.ActionType{schema.ActionGetFeed, schema.ActionDelay, schema.ActionLikeCast} {
		h, err := q.Enqueue(context.Background(), testJob(at))
		require.NoError(t, err)
		<-h.Done()
	}
	q.Shutdown()

	s := q.Stats()
	assert.Equal(t, int64(0), s.Active)
	assert.Equal(t, int64(1), s.Completed)
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, int64(1), s.Panics)
}

func TestAttemptsStampedOnJob(t *testing.T) {
	var final atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		if job.Attempt == job.MaxAttempts {
			final.Add(1)
		}
		return nil, schema.NewError(schema.ErrCodeTransient, "still down")
	}), WithAttempts(3), WithBackoff(time.Millisecond))
	defer q.Shutdown()

	h, err := q.Enqueue(context.Background(), testJob(schema.ActionLikeCast))
	require.NoError(t, err)
	_, err = h.Result()
	require.Error(t, err)
	assert.Equal(t, int32(1), final.Load())
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		return nil, nil
	}))
	q.Shutdown()

	_, err := q.Enqueue(context.Background(), testJob(schema.ActionDelay))
	assert.ErrorIs(t, err, ErrQueueShutdown)
}

func TestEnqueueRespectsContextWhileFull(t *testing.T) {
	release := make(chan struct{})
	q := New(ProcessorFunc(func(ctx context.Context, job *schema.ExecutionJob) (any, error) {
		<-release
		return nil, nil
	}), WithPoolSize(1))
	defer func() {
		close(release)
		q.Shutdown()
	}()

	_, err := q.Enqueue(context.Background(), testJob(schema.ActionDelay))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, testJob(schema.ActionDelay))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
