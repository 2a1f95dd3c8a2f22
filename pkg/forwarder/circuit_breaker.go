package forwarder

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed means the upstream has been answering normally
	StateClosed CircuitState = iota
	// StateOpen means the upstream has failed enough consecutive attempts
	// to be reported as down
	StateOpen
	// StateHalfOpen means the breaker's timeout has elapsed and it is
	// waiting to see whether the upstream has recovered
	StateHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks the health state of a single upstream as a pure
// observer: see Health's doc comment for why nothing in this package uses
// it to gate or reorder forwarding attempts.
type CircuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int64
	successes       atomic.Int64
	lastStateChange atomic.Int64

	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
	cb.state.Store(int32(StateClosed))
	cb.lastStateChange.Store(time.Now().UnixNano())
	return cb
}

func (cb *CircuitBreaker) onFailure() {
	cb.maybeHalfOpen()

	failures := cb.failures.Add(1)
	state := CircuitState(cb.state.Load())

	switch state {
	case StateClosed:
		if failures >= int64(cb.failureThreshold) {
			if cb.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
				cb.lastStateChange.Store(time.Now().UnixNano())
			}
		}
	case StateHalfOpen:
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			cb.lastStateChange.Store(time.Now().UnixNano())
			cb.failures.Store(0)
			cb.successes.Store(0)
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.maybeHalfOpen()

	cb.failures.Store(0)
	successes := cb.successes.Add(1)
	state := CircuitState(cb.state.Load())

	if state == StateHalfOpen && successes >= int64(cb.successThreshold) {
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
			cb.lastStateChange.Store(time.Now().UnixNano())
		}
	}
}

// maybeHalfOpen transitions an open breaker to half-open once its timeout
// has elapsed, so telemetry reflects recovery attempts even though nothing
// consults it before forwarding.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if CircuitState(cb.state.Load()) != StateOpen {
		return
	}
	if time.Since(time.Unix(0, cb.lastStateChange.Load())) <= cb.timeout {
		return
	}
	if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange.Store(time.Now().UnixNano())
		cb.successes.Store(0)
		cb.failures.Store(0)
	}
}

// GetState returns the current circuit state
func (cb *CircuitBreaker) GetState() CircuitState {
	return CircuitState(cb.state.Load())
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (failures, successes int64, state CircuitState) {
	return cb.failures.Load(), cb.successes.Load(), cb.GetState()
}
