package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed indicates the circuit is closed and calls are allowed
	StateClosed CircuitBreakerState = 0

	// StateOpen indicates the circuit is open and calls are rejected
	StateOpen CircuitBreakerState = 1

	// StateHalfOpen indicates the circuit is probing whether the upstream recovered
	StateHalfOpen CircuitBreakerState = 2
)

// halfOpenSuccesses is the number of consecutive successes needed to close a half-open circuit.
const halfOpenSuccesses = 3

// CircuitBreaker stops calling an upstream that keeps failing
type CircuitBreaker struct {
	name                 string
	state                int32 // atomic: CircuitBreakerState
	consecutiveFailures  int64 // atomic
	consecutiveSuccesses int64 // atomic
	failureThreshold     int64
	resetTimeout         time.Duration
	lastFailureTime      int64 // atomic: Unix nano timestamp
	mu                   sync.Mutex
	onChange             func(name string, from, to CircuitBreakerState)
}

// OnStateChange registers fn to be called after every state transition. It is
// called with the breaker's lock held and must not call back into the breaker.
// Set it before the breaker is shared.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitBreakerState)) *CircuitBreaker {
	cb.onChange = fn
	return cb
}

// NewCircuitBreaker creates a new circuit breaker with the specified threshold and timeout
func NewCircuitBreaker(name string, failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:             name,
		state:            int32(StateClosed),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// LogStateChanges returns an OnStateChange callback that logs transitions.
// Opening is logged as a warning.
func LogStateChanges(logger *zap.Logger) func(name string, from, to CircuitBreakerState) {
	return func(name string, from, to CircuitBreakerState) {
		fields := []zap.Field{
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		}
		if to == StateOpen {
			logger.Warn("Circuit breaker opened", fields...)
			return
		}
		logger.Info("Circuit breaker state changed", fields...)
	}
}

// Allow returns ErrCircuitOpen when calls must not be attempted.
func (cb *CircuitBreaker) Allow() error {
	if cb.IsOpen() {
		return fmt.Errorf("%s: %w", cb.name, sdkerrors.ErrCircuitOpen)
	}
	return nil
}

// IsOpen returns true if the circuit breaker is currently open
func (cb *CircuitBreaker) IsOpen() bool {
	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) != StateOpen {
		return false
	}

	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	if lastFailure > 0 && time.Since(time.Unix(0, lastFailure)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.consecutiveFailures, 0)

	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) == StateHalfOpen {
		if atomic.AddInt64(&cb.consecutiveSuccesses, 1) >= halfOpenSuccesses {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))

	atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
	failures := atomic.AddInt64(&cb.consecutiveFailures, 1)

	if state == StateClosed && failures >= cb.failureThreshold {
		cb.transitionTo(StateOpen)
	} else if state == StateHalfOpen {
		// Any failure while probing reopens the circuit
		cb.transitionTo(StateOpen)
	}
}

// Record records the outcome of a call.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) GetConsecutiveFailures() int64 {
	return atomic.LoadInt64(&cb.consecutiveFailures)
}

// transitionTo transitions the circuit breaker to a new state
func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := CircuitBreakerState(atomic.SwapInt32(&cb.state, int32(newState)))

	switch newState {
	case StateClosed:
		atomic.StoreInt64(&cb.consecutiveFailures, 0)
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	}

	if old != newState && cb.onChange != nil {
		cb.onChange(cb.name, old, newState)
	}
}

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}
