package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(ctx context.Context) error { return errBoom }
func ok(ctx context.Context) error   { return nil }

// TestCircuitBreakerFullLifecycle follows spec §8 scenario 4 exactly:
// failure_threshold=3, timeout=100ms, success_threshold=2.
func TestCircuitBreakerFullLifecycle(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      100 * time.Millisecond,
	})
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), fail)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.State(), "three consecutive failures trip the breaker")

	err := cb.Execute(context.Background(), ok)
	assert.ErrorIs(t, err, ErrCircuitOpen, "a call within the timeout fails fast without invoking the operation")

	time.Sleep(150 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateHalfOpen, cb.State(), "the first call after timeout elapses moves to half-open")

	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State(), "success_threshold successes in half-open close the breaker")
}

func TestCircuitBreakerHalfOpenFailureReturnsToOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
	})
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	err := cb.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State(), "any failure in half-open returns to open")
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5})
	require.NoError(t, cb.Execute(context.Background(), ok))
	_ = cb.Execute(context.Background(), fail)

	m := cb.Metrics()
	assert.Equal(t, uint32(2), m.Requests)
	assert.Equal(t, uint32(1), m.TotalSuccesses)
	assert.Equal(t, uint32(1), m.TotalFailures)
}
