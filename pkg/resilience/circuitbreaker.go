// Package resilience implements the circuit breaker, bounded retry with
// backoff, used by effect execution and by projection consumers (spec
// §4.7). The circuit breaker is a typed wrapper around
// github.com/sony/gobreaker — present in the teacher's go.mod but never
// wired — so the state machine, consecutive-failure/success counters,
// and generation-based half-open probing come from a production-tested
// library instead of a hand-rolled one.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a call is rejected: the breaker is Open
// and its timeout has not yet elapsed, or it is HalfOpen and has already
// admitted SuccessThreshold trial calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerConfig configures a CircuitBreaker. Zero values take the
// defaults documented in spec §4.7/§6.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // default 5
	SuccessThreshold uint32        // default 2
	OpenTimeout      time.Duration // default 60s
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 60 * time.Second
	}
	return c
}

// BreakerState mirrors spec §4.7's three states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Counts is a metrics snapshot: calls, successes and failures, plus the
// current consecutive runs. The counters restart whenever the breaker
// changes state. Calls rejected with ErrCircuitOpen are not counted.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards a call: if Open and the timeout has not elapsed
// it fails fast with ErrCircuitOpen; otherwise it executes the operation
// and records the outcome. MaxRequests is pinned to SuccessThreshold so
// HalfOpen admits exactly that many trial calls before deciding.
type CircuitBreaker struct {
	cfg BreakerConfig
	cb  *gobreaker.CircuitBreaker
}

// NewCircuitBreaker constructs a CircuitBreaker starting Closed.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0, // never reset Closed-state counts on a timer; only on state change
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &CircuitBreaker{cfg: cfg, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker's guard.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Metrics returns a snapshot of the breaker's call counters.
func (b *CircuitBreaker) Metrics() Counts {
	c := b.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}
