// Package resilience provides circuit breaking, provider failover and bounded
// retry primitives for the voice pipeline's remote collaborators.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) that
// stops the pipeline from hammering a question-answering or transcription
// backend that is down. [FallbackGroup] composes several instances of one
// provider type with per-entry breakers. [RetryPolicy] bounds restarts of the
// streaming recognizer with exponential backoff.
//
// All types are safe for concurrent use.
package resilience

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without running the call while the breaker
// rejects traffic.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout
	// has passed since the trip.
	StateOpen
	// StateHalfOpen admits up to HalfOpenMax probes. One failed probe trips
	// the breaker again; HalfOpenMax successes close it.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log records, e.g. "qa" or "transcriber/whisper".
	Name string

	MaxFailures  int           // default 5
	ResetTimeout time.Duration // default 30s
	HalfOpenMax  int           // default 3

	// IsFailure filters which errors count. Context cancellation never
	// counts; nil counts every other error.
	IsFailure func(error) bool

	Now func() time.Time
}

// CircuitBreaker guards a remote dependency.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int // consecutive, closed state only
	openedAt time.Time
	probes   int // admitted in the current half-open window
	passed   int // succeeded in the current half-open window
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cmp.Or(max(cfg.MaxFailures, 0), 5),
		resetTimeout: cmp.Or(max(cfg.ResetTimeout, 0), 30*time.Second),
		halfOpenMax:  cmp.Or(max(cfg.HalfOpenMax, 0), 3),
		isFailure:    cfg.IsFailure,
		now:          cfg.Now,
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Execute runs fn unless the breaker rejects it with [ErrCircuitOpen], and
// returns fn's error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, cb.counts(err))
	return err
}

// ExecuteContext runs fn with ctx. A ctx that is already done is returned
// as is and does not reach the breaker.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cb.Execute(func() error { return fn(ctx) })
}

// admit decides whether a call may run. probe reports whether it runs as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.halfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case probe && failed:
		cb.moveTo(StateOpen)
	case probe:
		if cb.state != StateHalfOpen {
			return
		}
		if cb.passed++; cb.passed >= cb.halfOpenMax {
			cb.moveTo(StateClosed)
		}
	case failed:
		if cb.failures++; cb.failures >= cb.maxFailures && cb.state == StateClosed {
			cb.moveTo(StateOpen)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) counts(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case cb.isFailure != nil:
		return cb.isFailure(err)
	default:
		return true
	}
}

// moveTo switches state, resets the counters that belong to it and logs the
// transition. Callers hold cb.mu.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		slog.Warn("resilience: circuit opened", "name", cb.name, "from", from, "consecutive_failures", cb.failures)
	case StateHalfOpen:
		cb.probes, cb.passed = 0, 0
		slog.Info("resilience: circuit half-open", "name", cb.name)
	case StateClosed:
		cb.failures, cb.probes, cb.passed = 0, 0, 0
		if from != StateClosed {
			slog.Info("resilience: circuit closed", "name", cb.name)
		}
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
}
