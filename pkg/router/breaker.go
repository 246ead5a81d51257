package router

import (
	"sync"
	"time"
)

// Breaker states.
const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

const (
	breakerFailureThreshold = 5
	breakerProbeAfter       = 30 * time.Second
)

// breaker is a per-target circuit breaker: closed until five
// consecutive failures, then open; after 30s one probe call is let
// through half-open.
type breaker struct {
	mu          sync.Mutex
	state       int
	consecutive int
	openedAt    time.Time
	now         func() time.Time
}

func newBreaker() *breaker {
	return &breaker{now: time.Now}
}

// Allow reports whether a call may proceed, transitioning open to
// half-open when the probe window has elapsed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= breakerProbeAfter {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default: // half-open: probe in flight, hold further calls
		return false
	}
}

// Success resets the breaker to closed.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutive = 0
}

// Failure records a failed call, opening the breaker at the threshold
// and re-opening immediately from a failed half-open probe.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.state == breakerHalfOpen || b.consecutive >= breakerFailureThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// State returns 0 closed, 1 open, 2 half-open, for metrics.
func (b *breaker) State() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSet tracks one breaker per target.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: map[string]*breaker{}}
}

func (s *breakerSet) get(target string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[target]
	if !ok {
		b = newBreaker()
		s.breakers[target] = b
	}
	return b
}
