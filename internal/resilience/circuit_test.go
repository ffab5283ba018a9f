package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "oracle", FailureThreshold: 2, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("boom") }
	ok := func(context.Context) error { return nil }

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitClosed, cb.State())
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("y") })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTripFiltersErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ShouldTrip: IsTransient})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("bad input") })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteVal_ReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestNewDLQEntry_Circuit(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewDLQEntry("inv.pdf", "INV-1", "matching", NewTransientError(errors.New("timeout"), 504), 3, now)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ErrorTransient, e.ErrorType)
	assert.Equal(t, now.Add(time.Minute), e.NextRetryAt)
	assert.True(t, e.CanRetry())

	e.RetryCount = 3
	assert.False(t, e.CanRetry())
}

func TestRetryDelay_Circuit(t *testing.T) {
	assert.Equal(t, time.Minute, RetryDelay(0))
	assert.Equal(t, 4*time.Minute, RetryDelay(2))
	assert.Equal(t, 24*time.Hour, RetryDelay(40))
}
