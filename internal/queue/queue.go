package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/internal/logging"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// Processor consumes one job and produces its result. Implemented by the
// action executor.
type Processor interface {
	Process(ctx context.Context, job *schema.ExecutionJob) (any, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *schema.ExecutionJob) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	return f(ctx, job)
}

// Handle is the awaitable result of an enqueued job. The channel returned by
// Done is closed once the job reaches a terminal state; Result is valid only
// after that.
type Handle struct {
	done   chan struct{}
	result any
	err    error
}

// Done returns a channel closed when the job completes or fails terminally.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal value and error. It blocks until the job is done.
func (h *Handle) Result() (any, error) {
	<-h.done
	return h.result, h.err
}

func (h *Handle) resolve(result any, err error) {
	h.result = result
	h.err = err
	close(h.done)
}

const (
	DefaultAttempts   = 3
	DefaultBackoff    = 1000 * time.Millisecond
	DefaultPoolSize   = 8
	defaultBackoffCap = 30 * time.Second
)

// Option configures a Queue.
type Option func(*Queue)

// WithAttempts sets how many times a job is attempted before failing terminally.
func WithAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.attempts = n
		}
	}
}

// WithBackoff sets the initial delay between job attempts. Each subsequent
// delay doubles.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoff = d
		}
	}
}

// WithPoolSize sets the number of concurrent workers.
func WithPoolSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.poolSize = n
		}
	}
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue delivers jobs to a Processor with at-least-once semantics: a job that
// fails retryably is re-attempted up to the configured attempt count with
// exponential backoff before its handle resolves with the final error.
type Queue struct {
	processor Processor
	pool      *workerPool
	attempts  int
	backoff   time.Duration
	poolSize  int
	log       *slog.Logger
}

// New creates a queue delivering jobs to the given processor.
func New(processor Processor, opts ...Option) *Queue {
	q := &Queue{
		processor: processor,
		attempts:  DefaultAttempts,
		backoff:   DefaultBackoff,
		poolSize:  DefaultPoolSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.pool = newWorkerPool(q.poolSize)
	return q
}

// Enqueue submits a job and returns a handle to await its terminal outcome.
// It blocks while the pool is at capacity.
func (q *Queue) Enqueue(ctx context.Context, job *schema.ExecutionJob) (*Handle, error) {
	h := &Handle{done: make(chan struct{})}
	err := q.pool.submit(ctx, func(ctx context.Context) error {
		// A panicking processor must still resolve the handle, or the
		// runner awaiting Result() hangs forever. The re-panic lets the
		// pool count it.
		defer func() {
			if r := recover(); r != nil {
				q.log.ErrorContext(ctx, "job panicked",
					slog.String("action_type", string(job.Action.Type)),
					slog.Any("panic", r))
				h.resolve(nil, schema.NewErrorf(schema.ErrCodeExecution, "action panicked: %v", r))
				panic(r)
			}
		}()
		result, err := q.run(ctx, job)
		h.resolve(result, err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// run drives a single job through its attempt cycle.
func (q *Queue) run(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	ctx = logging.WithIDs(ctx, job.AccountID, job.CorrelationID, string(job.Action.Type))
	delay := q.backoff

	var lastErr error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		job.Attempt = attempt
		job.MaxAttempts = q.attempts
		result, err := q.processor.Process(ctx, job)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			q.log.ErrorContext(ctx, "job failed",
				slog.String("action_type", string(job.Action.Type)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return nil, err
		}
		if attempt == q.attempts {
			break
		}

		q.log.WarnContext(ctx, "job attempt failed, retrying",
			slog.String("action_type", string(job.Action.Type)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > defaultBackoffCap {
			delay = defaultBackoffCap
		}
	}

	q.log.ErrorContext(ctx, "job failed after all attempts",
		slog.String("action_type", string(job.Action.Type)),
		slog.Int("attempts", q.attempts),
		slog.String("error", lastErr.Error()))
	return nil, lastErr
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// Stats reports the queue's activity counters.
func (q *Queue) Stats() Stats {
	return q.pool.snapshot()
}

// Shutdown stops accepting new jobs and waits for in-flight jobs to finish.
func (q *Queue) Shutdown() {
	q.pool.shutdown()
	s := q.Stats()
	q.log.Info("queue drained",
		slog.Int64("completed", s.Completed),
		slog.Int64("failed", s.Failed),
		slog.Int64("panics", s.Panics))
}

// retryable classifies an error for the job-level retry loop. Deterministic
// failures are surfaced immediately.
func retryable(err error) bool {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	return false
}
