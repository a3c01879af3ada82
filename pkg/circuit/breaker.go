// Package circuit provides the circuit breaker guarding RPC endpoints and telemetry sinks.
//
// A breaker opens after MaxFailures counted failures, rejects calls for
// Timeout, then lets calls through half-open until SuccessRequired of them
// succeed in a row. Any counted failure while half-open reopens it.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/goore/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit allows limited requests to test recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
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

// Config holds circuit breaker configuration
type Config struct {
	Name            string        // Reported in errors and state-change callbacks
	MaxFailures     int           // Counted failures before opening
	SuccessRequired int           // Successful calls required to close from half-open
	Timeout         time.Duration // Time spent open before probing
	ResetTimeout    time.Duration // Closed-state window after which the failure count resets

	// IsFailure decides whether an error counts against the breaker.
	// Nil counts only retryable errors, so an account-not-found or a failed
	// simulation (a healthy round trip with a bad answer) never opens the circuit.
	IsFailure func(error) bool

	// OnStateChange is invoked outside the lock after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the configuration used for a nil Config
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	lastResetTime time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	b := &Breaker{config: config, now: time.Now, state: StateClosed}
	b.lastResetTime = b.now()
	return b
}

// Execute runs fn unless the circuit is open
func (cb *Breaker) Execute(_ context.Context, fn func() error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// ExecuteWithResult is Execute for functions returning a value
func ExecuteWithResult[T any](_ context.Context, cb *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	result, err := fn()
	cb.recordResult(err)
	return result, err
}

// IsOpen reports whether err is a rejection by an open breaker
func IsOpen(err error) bool {
	return errors.GetContext(err)["breaker_state"] == StateOpen.String()
}

func (cb *Breaker) openError() error {
	return errors.New(errors.ErrorTypeInternal, "circuit_breaker",
		"circuit breaker is open").
		WithContext("breaker", cb.config.Name).
		WithContext("breaker_state", StateOpen.String())
}

// transition moves to state and reports the previous one. Callers hold mu.
func (cb *Breaker) transition(to State) State {
	from := cb.state
	cb.state = to
	cb.successes = 0
	if to == StateClosed {
		cb.failures = 0
		cb.lastResetTime = cb.now()
	}
	return from
}

// allowRequest determines if a request should be allowed based on current state
func (cb *Breaker) allowRequest() error {
	cb.mu.Lock()
	now := cb.now()

	switch cb.state {
	case StateClosed:
		if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.lastResetTime = now
		}
		cb.mu.Unlock()
		return nil

	case StateOpen:
		if now.Sub(cb.lastFailTime) <= cb.config.Timeout {
			cb.mu.Unlock()
			return cb.openError()
		}
		from := cb.transition(StateHalfOpen)
		cb.mu.Unlock()
		cb.notify(from, StateHalfOpen)
		return nil

	default:
		cb.mu.Unlock()
		return nil
	}
}

func (cb *Breaker) countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return errors.IsRetryable(err)
}

// recordResult records the result of a function execution
func (cb *Breaker) recordResult(err error) {
	cb.mu.Lock()
	from := cb.state

	if cb.countsAsFailure(err) {
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	} else if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessRequired {
			cb.transition(StateClosed)
		}
	}

	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *Breaker) notify(from, to State) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *Breaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name         string
	State        State
	Failures     int
	Successes    int
	LastFailTime time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *Breaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:         cb.config.Name,
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		LastFailTime: cb.lastFailTime,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	from := cb.transition(StateClosed)
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
