package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit is operational and requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit has tripped due to failures and requests are blocked.
	CircuitOpen
	// CircuitHalfOpen means a single probe request is testing whether the provider recovered.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is the cool-down before a half-open probe is allowed.
	ResetAfter time.Duration
	// OnStateChange, when set, is called with the new state after every transition.
	// It runs under the breaker lock and must not call back into the breaker.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive failures and lets a single probe
// through once the cool-down has elapsed. It is the only mutable state the gateway
// shares between requests.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	onStateChange    func(from, to CircuitState)
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold < 1 {
		config.Threshold = 1
	}
	return &CircuitBreaker{
		threshold:     config.Threshold,
		resetAfter:    config.ResetAfter,
		state:         CircuitClosed,
		onStateChange: config.OnStateChange,
		now:           time.Now,
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	from := cb.state
	cb.state = s
	if cb.onStateChange != nil {
		cb.onStateChange(from, s)
	}
}

// Allow reports whether a request may proceed. When the cool-down has elapsed it
// moves the breaker to half-open and admits exactly one probe.
// The returned error wraps ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since >= cb.resetAfter {
			cb.setState(CircuitHalfOpen)
			return true, nil
		}
		return false, fmt.Errorf("%w: LLM provider appears to be down (failed %d times, last failure %v ago)",
			ErrCircuitOpen, cb.consecutiveFails, since.Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("%w: probe in flight, testing if LLM provider has recovered", ErrCircuitOpen)
	default:
		return false, fmt.Errorf("%w: unknown state %v", ErrCircuitOpen, cb.state)
	}
}

// Available reports whether Allow would admit a request, without consuming the
// half-open probe.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		return cb.now().Sub(cb.lastFailure) >= cb.resetAfter
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.setState(CircuitClosed)
}

// RecordFailure increments the failure count and trips the circuit if threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitOpen)
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.setState(CircuitOpen)
	}
}

// RecordCanceled releases the half-open slot when its caller gave up. The failure count
// and cool-down are left alone, so the next Allow admits a fresh trial request.
func (cb *CircuitBreaker) RecordCanceled() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitOpen)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.setState(CircuitClosed)
}
