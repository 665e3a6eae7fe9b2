// Package resilience provides the fault-tolerance primitives used around
// the record store and cache: a circuit breaker, exponential-backoff retry,
// and a bounded-time call wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned for calls rejected while the breaker is open.
// Callers treat it like the underlying dependency being unavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker phase.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// CircuitBreakerConfig sets when the breaker trips and how it recovers.
// Zero values take defaults (5 failures, 30s cool-down, 1 probe).
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// CircuitBreaker trips open after FailureThreshold consecutive failures.
// While open every call is rejected immediately; after ResetTimeout a
// limited number of probe calls is let through, and one success closes
// the circuit again.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	log  *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probesInUse int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name: name,
		cfg:  cfg,
		log:  slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit rejects the call, and feeds the result
// back into the breaker state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// GetState returns the current breaker phase.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed, clearing failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probesInUse = 0
	cb.log.Info("circuit manually reset")
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		remaining := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, remaining)
		}
		cb.state = StateHalfOpen
		cb.probesInUse = 0
		cb.log.Info("circuit transitioning to half-open", "after", cb.cfg.ResetTimeout)
	case StateHalfOpen:
		if cb.probesInUse >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (half-open probe limit reached)", ErrCircuitOpen, cb.name)
		}
	}
	if cb.state == StateHalfOpen {
		cb.probesInUse++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.log.Info("circuit closed (recovered)")
		}
		cb.state = StateClosed
		cb.failures = 0
		cb.probesInUse = 0
		return
	}
	cb.failures++
	cb.openedAt = time.Now()
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.log.Warn("circuit opened",
				"consecutive_failures", cb.failures,
				"threshold", cb.cfg.FailureThreshold)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.log.Warn("circuit re-opened (half-open probe failed)")
	}
}
