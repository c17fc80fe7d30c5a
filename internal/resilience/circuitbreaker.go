// Package resilience protects the detection path from failing backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] chains several instances of one provider type, each behind
// its own breaker, and [DetectorFallback] applies that to detectors so a dead
// inference server is bypassed instead of failing every frame.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open, or half-open with its probe budget used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// now replaces time.Now in tests.
	now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
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
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn if the breaker allows it. An error wrapping
// [context.Canceled] is returned unrecorded; deadline errors count as
// failures.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	switch {
	case err == nil:
		cb.settle(probe, true)
	case errors.Is(err, context.Canceled):
		cb.release(probe)
	default:
		cb.settle(probe, false)
	}
	return err
}

// admit decides whether a call may proceed and reserves a probe slot when
// half-open.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var changed bool
	from := cb.state
	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.state = StateHalfOpen
		cb.probes, cb.probeSuccesses = 0, 0
		changed = true
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

// release returns a probe slot for a call that ended without a verdict.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

// settle records the verdict of a finished call.
func (cb *CircuitBreaker) settle(probe, ok bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case ok && probe && cb.state == StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenMax {
			cb.closeLocked()
		}
	case ok:
		cb.consecutiveFail = 0
	case probe && cb.state == StateHalfOpen:
		cb.openLocked()
	case cb.state == StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.cfg.MaxFailures {
			cb.openLocked()
		}
	}
	to := cb.state
	failures := cb.consecutiveFail
	cb.mu.Unlock()

	if from == to {
		return
	}
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", from.String(), "consecutive_failures", failures)
	} else {
		slog.Info("circuit breaker closed after successful probes", "name", cb.cfg.Name)
	}
	cb.notify(from, to)
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.now()
	cb.probes, cb.probeSuccesses = 0, 0
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.closeLocked()
	cb.mu.Unlock()

	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
