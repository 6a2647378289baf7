// Package ratelimit provides sliding-window admission control for outbound
// platform calls, keyed by (operation, credential identity) so one account's
// cadence on one operation never starves another key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

const (
	// DefaultWindow is the trailing admission window.
	DefaultWindow = 1000 * time.Millisecond
	// DefaultLimit is the max calls admitted per key per window.
	DefaultLimit = 5
)

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Limiter is a local, in-process, best-effort sliding-window limiter.
// It does not coordinate across engine instances. Safe for concurrent use.
type Limiter struct {
	window time.Duration
	limit  int
	now    Clock

	mu    sync.Mutex
	calls map[string][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the admission window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithLimit overrides the per-window call cap.
func WithLimit(n int) Option {
	return func(l *Limiter) { l.limit = n }
}

// WithClock injects a clock (tests).
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.now = c }
}

// New creates a Limiter with the given options.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		window: DefaultWindow,
		limit:  DefaultLimit,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
	for _, o := range opts {
		o(l)
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	return l
}

// Key builds the namespaced admission key for an operation and credential.
func Key(operation, credentialID string) string {
	return operation + ":" + credentialID
}

// CheckAndRecord admits or rejects one call for the key. Timestamps outside
// the trailing window are dropped first; a rejected call is not recorded.
func (l *Limiter) CheckAndRecord(key string) error {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.calls[key][:0]
	for _, ts := range l.calls[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.limit {
		l.calls[key] = recent
		return schema.NewErrorf(schema.ErrCodeRateLimited,
			"rate limit exceeded for %s: %d calls in %s", key, len(recent), l.window)
	}

	l.calls[key] = append(recent, now)
	return nil
}

// Reset clears all recorded calls. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = make(map[string][]time.Time)
}
