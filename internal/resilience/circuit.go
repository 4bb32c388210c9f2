// Package resilience provides retry and circuit breaking for calls to the
// safety backend.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker's view of the backend.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails calls fast until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through.
	CircuitHalfOpen
)

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

// ErrCircuitOpen is returned without calling the backend while the circuit
// is open or a half-open probe is already in flight.
var ErrCircuitOpen = eris.New("resilience: backend circuit open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold is the run of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe.
	// Default 30s.
	ResetTimeout time.Duration
	// ShouldTrip reports whether err counts against the backend. Nil counts
	// every error.
	ShouldTrip func(err error) bool
	// OnStateChange runs on its own goroutine after each transition.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker short-circuits calls to a failing backend so callers can
// fall back to cached data without waiting on timeouts.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Call runs fn through cb.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.acquire()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := fn(ctx)
	cb.release(probe, err)
	return v, err
}

// State reports the current state. An open circuit whose timeout has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if !cb.cooled() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.state == CircuitClosed {
		return false, nil
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) release(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if err == nil || (cb.cfg.ShouldTrip != nil && !cb.cfg.ShouldTrip(err)) {
		cb.failures = 0
		if probe {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	// Calls admitted before the circuit opened do not extend the outage.
	if probe || (cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold) {
		cb.failures = 0
		cb.openedAt = cb.now()
		cb.moveTo(CircuitOpen)
	}
}

// moveTo requires cb.mu.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	zap.L().Info("circuit state change",
		zap.String("component", "resilience"),
		zap.String("breaker", cb.cfg.Name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if fn := cb.cfg.OnStateChange; fn != nil {
		go fn(from, to)
	}
}
