package platform

import (
	"sync"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// BreakerState is the state of one account's circuit.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting calls
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-account circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// before the circuit opens for an account.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe requests allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breakerEntry struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// Breaker tracks consecutive transient platform failures per account and
// short-circuits further calls for that account while the upstream is down.
// An open circuit never affects other accounts.
type Breaker struct {
	mu      sync.Mutex
	entries map[string]*breakerEntry
	config  BreakerConfig
	now     func() time.Time
}

// NewBreaker creates a Breaker. Zero-value config fields fall back to
// DefaultBreakerConfig.
func NewBreaker(config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{
		entries: make(map[string]*breakerEntry),
		config:  config,
		now:     time.Now,
	}
}

// Allow reports whether a call for the account may proceed. It returns a
// typed circuit-open error when the account's circuit is rejecting calls.
func (b *Breaker) Allow(accountID string) error {
	e := b.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if b.now().Sub(e.lastFailure) >= b.config.Cooldown {
			e.state = BreakerHalfOpen
			e.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for account %s after %d consecutive failures", accountID, e.failures).
			WithDetails(map[string]any{
				"accountId":           accountID,
				"consecutiveFailures": e.failures,
				"state":               e.state.String(),
				"cooldownRemaining":   (b.config.Cooldown - b.now().Sub(e.lastFailure)).String(),
			})

	case BreakerHalfOpen:
		if e.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for account %s: probe in flight", accountID)
		}
		e.halfOpenAttempts++
		return nil
	}
	return nil
}

// RecordSuccess closes the account's circuit.
func (b *Breaker) RecordSuccess(accountID string) {
	e := b.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.halfOpenAttempts = 0
	e.state = BreakerClosed
}

// RecordFailure counts a transient failure and returns the resulting state.
// Any failure while half-open reopens the circuit immediately.
func (b *Breaker) RecordFailure(accountID string) BreakerState {
	e := b.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures++
	e.lastFailure = b.now()

	if e.state == BreakerHalfOpen || e.failures >= b.config.FailureThreshold {
		e.state = BreakerOpen
		return BreakerOpen
	}
	return e.state
}

// State returns the account's current circuit state, advancing an expired
// open circuit to half-open.
func (b *Breaker) State(accountID string) BreakerState {
	e := b.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == BreakerOpen && b.now().Sub(e.lastFailure) >= b.config.Cooldown {
		e.state = BreakerHalfOpen
		e.halfOpenAttempts = 0
	}
	return e.state
}

func (b *Breaker) entry(accountID string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[accountID]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		b.entries[accountID] = e
	}
	return e
}
