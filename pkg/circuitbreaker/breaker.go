// Package circuitbreaker stops settlement submissions after repeated failures.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/clock"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/metrics"
)

// ErrCircuitOpen is returned by Execute while the circuit is tripped
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	clock         clock.Clock
	logger        logger.Logger
	mu            sync.Mutex
}

// Option configures a CircuitBreaker
type Option func(*CircuitBreaker)

// WithClock sets the clock used for the failure window and reset timeout
func WithClock(c clock.Clock) Option {
	return func(cb *CircuitBreaker) {
		cb.clock = c
	}
}

// WithLogger sets the logger for trip and reset messages
func WithLogger(l logger.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = l
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(enabled bool, threshold int, window time.Duration, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		clock:         clock.System{},
		logger:        &logger.EmptyLogger{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the circuit is open, recording a failure when fn
// fails and ctx is still live.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb.IsOpen() {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()

	// If the circuit is already tripped, check if it's time to try again
	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.resetTimeout {
			cb.logger.NoticeWithComponent(logger.Settlement, "Circuit breaker: attempting to reset after timeout")
			cb.close()
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitOpen.Set(1)
		cb.logger.ErrorWithComponent(logger.Settlement, "Circuit breaker tripped: %d failures in window", cb.failureCount)
		return true
	}

	return false
}

// RecordSuccess clears the failure count of a closed circuit
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && cb.clock.Now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.close()
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.close()
}

// Failures returns the failures counted in the current window
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// IsEnabled returns true if the circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.enabled
}

// close must be called with mu held
func (cb *CircuitBreaker) close() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitOpen.Set(0)
}
