// Package resilience keeps the voice pipeline responsive when a speech or
// language backend degrades. [CircuitBreaker] stops hammering a backend that
// keeps failing, and [FallbackGroup] routes each call to the first configured
// backend whose breaker still admits traffic, so one dead API key or
// unreachable host degrades quality instead of silencing the assistant.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a limited number of trial calls after the reset
	// timeout. Enough successes close the breaker; one failure re-opens it.
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
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, typically the backend name from the
	// provider config ("elevenlabs", "whisper").
	Name string

	// MaxFailures is how many consecutive failures trip the breaker open.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting trial
	// calls. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is how many trial calls the half-open state admits before
	// deciding. Default 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker guarding one backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker creates a breaker from cfg, filling in defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call, otherwise it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	inHalfOpen, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err, inHalfOpen)
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open trial.
func (cb *CircuitBreaker) admit() (inHalfOpen, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		slog.Info("circuit breaker half-open", "name", cb.name)

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, false
		}
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		return true, true
	}
	return false, true
}

// record folds one call outcome into the breaker state.
func (cb *CircuitBreaker) record(err error, inHalfOpen bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !inHalfOpen {
			cb.consecutiveFail = 0
			return
		}
		if cb.halfOpenCalls-cb.halfOpenFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		return
	}

	cb.lastFailure = time.Now()
	if inHalfOpen {
		// One failed trial re-opens immediately.
		cb.halfOpenFails++
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.name)
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports half-open; the stored transition happens on
// the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
