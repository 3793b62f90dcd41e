package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// CircuitBreaker is a fail-fast guard shared by the whole pull gateway.
// A run of consecutive failures trips it open; after the cool-down it lets a
// bounded number of probes through. A probe success closes it, a probe
// failure re-opens it and restarts the cool-down.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	probesIssued int

	threshold      int
	cooldown       time.Duration
	halfOpenProbes int
	openedAt       time.Time

	now func() time.Time
}

// Option configures the breaker.
type Option func(*CircuitBreaker)

// WithClock injects a clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New creates a circuit breaker.
func New(threshold int, cooldown time.Duration, halfOpenProbes int, opts ...Option) *CircuitBreaker {
	if halfOpenProbes < 1 {
		halfOpenProbes = 1
	}
	cb := &CircuitBreaker{
		state:          StateClosed,
		threshold:      threshold,
		cooldown:       cooldown,
		halfOpenProbes: halfOpenProbes,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a request may be dispatched right now. While open it
// refuses everything until the cool-down elapses, then moves to half-open and
// admits up to the probe budget.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probesIssued = 1
		return true
	default: // half-open
		if cb.probesIssued >= cb.halfOpenProbes {
			return false
		}
		cb.probesIssued++
		return true
	}
}

// RecordSuccess clears the failure run; a successful half-open probe closes
// the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.probesIssued = 0
	}
}

// RecordFailure counts a failure; at the threshold (or on any half-open
// probe failure) the breaker opens and the cool-down restarts.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.probesIssued = 0
		cb.failureCount = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter reports how long until an open breaker admits probes again.
// Zero when not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.cooldown - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
