package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueShutdown is returned when a job is enqueued after shutdown.
var ErrQueueShutdown = errors.New("queue is shut down")

// poolMetrics holds the atomic counters behind Queue.Stats.
type poolMetrics struct {
	Active    int64
	Completed int64
	Failed    int64
	Panics    int64
}

// workerPool bounds the number of jobs processed concurrently. Enqueue blocks
// when the pool is at capacity, which backpressures runners naturally.
type workerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics poolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

func (p *workerPool) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrQueueShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrQueueShutdown
	}

	// Re-check closed after acquiring the slot, in case shutdown raced.
	// wg.Add(1) must happen under the lock to not race shutdown's wg.Wait().
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrQueueShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

func (p *workerPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *workerPool) snapshot() Stats {
	return Stats{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
