package hotstate

import (
	"sync"
	"time"
)

// breakerState is the state of a CircuitBreaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker wraps the hot-state client per spec §5: sliding window
// 60s, threshold 5 failures opens the breaker, 30s reset timeout moves
// it to half-open, and one success in half-open closes it again.
type CircuitBreaker struct {
	mu sync.Mutex

	window    time.Duration
	threshold int
	resetTime time.Duration

	state       breakerState
	failures    []time.Time
	openedAt    time.Time
}

// NewCircuitBreaker builds a breaker with the spec's default thresholds.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		window:    60 * time.Second,
		threshold: 5,
		resetTime: 30 * time.Second,
		state:     breakerClosed,
	}
}

// Allow reports whether a call may proceed, advancing half-open state as
// the reset timeout elapses.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.resetTime {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker unconditionally: one success while
// half-open (or closed) clears the failure window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = nil
}

// RecordFailure appends a failure timestamp and opens the breaker once
// the sliding window holds `threshold` or more failures.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.failures = append(b.failures, now)

	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept

	if b.state == breakerHalfOpen || len(b.failures) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

// IsOpen reports the current state without advancing it (used for
// metrics/health, not for gating calls — use Allow for that).
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}
