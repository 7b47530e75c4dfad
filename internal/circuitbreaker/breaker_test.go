package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())
	_, err := cb.Execute(func() (interface{}, error) { return "should not run", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	boom := errors.New("boom")
	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	result, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessNeverTrips(t *testing.T) {
	cb := New(DefaultConfig("test"))
	for i := 0; i < 20; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteWithFallback_CallsFallbackWhenCircuitOpen(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	boom := errors.New("boom")
	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	require.Equal(t, StateOpen, cb.State())

	fallbackCalled := false
	result, err := ExecuteWithFallback(cb,
		func() (string, error) { return "primary", nil },
		func(error) (string, error) {
			fallbackCalled = true
			return "fallback", nil
		},
	)
	require.NoError(t, err)
	assert.True(t, fallbackCalled)
	assert.Equal(t, "fallback", result)
}

func TestManager_GetCreatesAndReusesBreaker(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("x")
	b := m.Get("x")
	assert.Same(t, a, b)
}

func TestNewEvaluationCircuitBreakers_ProvidesBothBreakers(t *testing.T) {
	breakers := NewEvaluationCircuitBreakers()
	assert.Equal(t, StateClosed, breakers.OffPoolConstruction.State())
	assert.Equal(t, StateClosed, breakers.QuarantineEscalation.State())

	status, _ := breakers.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
}
