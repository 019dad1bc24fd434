// Package retry tracks per-provider fetch failures and derives the
// exponential-backoff delay between attempts.
package retry

import (
	"math"
	"sync"
	"time"
)

const (
	baseDelay     = 60 * time.Second
	maxDelay      = 600 * time.Second
	backoffFactor = 2
)

// State is a per-provider failure counter. Safe for concurrent use. Not
// persisted across restarts.
type State struct {
	mu       sync.Mutex
	failures uint32
}

// New returns a State with no recorded failures.
func New() *State {
	return &State{}
}

// RecordSuccess resets the failure counter.
func (s *State) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// RecordFailure increments the failure counter, saturating at the maximum.
func (s *State) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures < math.MaxUint32 {
		s.failures++
	}
}

// ConsecutiveFailures returns the current failure count.
func (s *State) ConsecutiveFailures() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// InBackoff reports whether at least one failure has been recorded since the
// last success.
func (s *State) InBackoff() bool {
	return s.ConsecutiveFailures() > 0
}

// CurrentDelay returns the cooldown before the next attempt: the base delay
// with no failures, otherwise base * factor^(failures-1) capped at the
// maximum.
func (s *State) CurrentDelay() time.Duration {
	s.mu.Lock()
	failures := s.failures
	s.mu.Unlock()

	if failures == 0 {
		return baseDelay
	}

	delay := baseDelay
	for i := uint32(1); i < failures; i++ {
		delay *= backoffFactor
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
