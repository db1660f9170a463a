package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig()

	assert.Equal(t, uint32(5), config.MaxFailures)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, uint32(1), config.MaxRequestsHalfOpen)
}

func TestCircuitBreaker_TransitionToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
	})

	testErr := errors.New("dial tcp: connection refused")
	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return testErr })
		require.ErrorIs(t, err, testErr)
	}
	assert.Equal(t, StateOpen, cb.State())

	executed := false
	err := cb.Call(func() error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, executed, "function must not run while open")
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})

	testErr := errors.New("boom")
	_ = cb.Call(func() error { return testErr })
	_ = cb.Call(func() error { return testErr })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)

	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})

	testErr := errors.New("boom")
	_ = cb.Call(func() error { return testErr })
	time.Sleep(40 * time.Millisecond)

	_ = cb.Call(func() error { return testErr })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	rejected := errors.New("request rejected by network")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, rejected)
		},
	})

	for i := 0; i < 5; i++ {
		_ = cb.Call(func() error { return rejected })
	}
	assert.Equal(t, StateClosed, cb.State(), "business rejections must not open the circuit")
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, to)
		},
	})

	_ = cb.Call(func() error { return errors.New("boom") })
	cb.Reset()

	assert.Equal(t, []CircuitState{StateOpen, StateClosed}, transitions)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
