package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreaker guards calls to the Memory Facade and other dependencies
// that can fail in bursts, tripping open after Threshold consecutive
// failures and probing again after Timeout, adapted from the teacher's
// resilience/circuit_breaker.go condensed to its closed/open/half-open core.
type CircuitBreaker struct {
	name      string
	threshold int
	timeout   time.Duration
	halfOpenN int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenInFlight int
	openedAt        time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{name: name, threshold: threshold, timeout: timeout, halfOpenN: 1, state: StateClosed}
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.canExecuteLocked()
}

func (cb *CircuitBreaker) canExecuteLocked() bool {
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenInFlight = 0
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenInFlight < cb.halfOpenN
	default:
		return true
	}
}

// Execute runs fn under circuit protection, returning ErrCircuitOpen
// immediately if the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if !cb.canExecuteLocked() {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailureLocked()
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.consecutiveFail++
	if cb.state == StateHalfOpen || cb.consecutiveFail >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.consecutiveFail = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
