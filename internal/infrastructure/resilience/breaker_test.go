package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

func succeed(context.Context) (interface{}, error) { return "ok", nil }
func fail(context.Context) (interface{}, error)    { return nil, errDownstream }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		threshold     uint32
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			threshold:     3,
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after threshold failures",
			threshold:     3,
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "stays closed below threshold",
			threshold:     3,
			requests:      []bool{false, false},
			expectedState: StateClosed,
		},
		{
			name:          "successes do not reset failures while closed",
			threshold:     3,
			requests:      []bool{false, true, false, true, false},
			expectedState: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			breaker := New("test", Settings{Threshold: tt.threshold, Timeout: time.Minute, Clock: clock.Now})

			for _, success := range tt.requests {
				op := fail
				if success {
					op = succeed
				}
				_, _ = breaker.Execute(context.Background(), op)
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerDefaults(t *testing.T) {
	breaker := New("defaults", Settings{})
	snap := breaker.Snapshot()

	assert.Equal(t, uint32(DefaultThreshold), snap.Threshold)
	assert.Equal(t, DefaultTimeout.Seconds(), snap.TimeoutSeconds)
	assert.Equal(t, StateClosed, snap.State)
	assert.Nil(t, snap.OpenedAt)
}

func TestBreakerOpenFailsFast(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 2, Timeout: time.Minute, Clock: clock.Now})

	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(context.Background(), fail)
		require.ErrorIs(t, err, errDownstream)
	}
	require.Equal(t, StateOpen, breaker.State())

	before := breaker.Snapshot()
	require.NotNil(t, before.OpenedAt)

	invoked := false
	clock.Advance(59 * time.Second)
	_, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
	assert.Equal(t, before.FailureCount, breaker.Snapshot().FailureCount, "rejection is not a failure")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 2, Timeout: time.Minute, Clock: clock.Now})

	_, _ = breaker.Execute(context.Background(), fail)
	_, _ = breaker.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, breaker.State())

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, breaker.State())

	result, err := breaker.Execute(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	snap := breaker.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, uint32(0), snap.FailureCount)
	assert.Nil(t, snap.OpenedAt)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 1, Timeout: 10 * time.Second, Clock: clock.Now})

	_, _ = breaker.Execute(context.Background(), fail)
	firstOpened := *breaker.Snapshot().OpenedAt

	clock.Advance(10 * time.Second)
	_, err := breaker.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errDownstream)

	snap := breaker.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	require.NotNil(t, snap.OpenedAt)
	assert.True(t, snap.OpenedAt.After(firstOpened), "opened_at is re-armed")
	require.NotNil(t, snap.LastFailureAt)
	assert.Equal(t, clock.Now(), *snap.LastFailureAt)
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 1, Timeout: time.Second, Clock: clock.Now})

	_, _ = breaker.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return "probe", nil
		})
		done <- err
	}()

	<-started
	_, err := breaker.Execute(context.Background(), succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerExcludedOutcome(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 1, Timeout: time.Second, Clock: clock.Now})

	_, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return nil, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	snap := breaker.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, uint32(0), snap.FailureCount)
	assert.Equal(t, uint32(0), snap.SuccessCount)
}

func TestBreakerInterval(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Threshold: 2, Interval: time.Minute, Clock: clock.Now})

	_, _ = breaker.Execute(context.Background(), fail)
	clock.Advance(time.Minute)
	_, _ = breaker.Execute(context.Background(), fail)

	snap := breaker.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, uint32(1), snap.FailureCount)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	breaker := New("payments", Settings{
		Threshold: 1,
		Timeout:   time.Second,
		Clock:     clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_, _ = breaker.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_, _ = breaker.Execute(context.Background(), succeed)

	assert.Equal(t, []string{
		"payments:closed->open",
		"payments:open->half-open",
		"payments:half-open->closed",
	}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{Threshold: 1})

	assert.Panics(t, func() {
		_, _ = breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
			panic("boom")
		})
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestCallTyped(t *testing.T) {
	breaker := New("typed", Settings{})

	n, err := Call(context.Background(), breaker, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half-open"},
		{StateOpen, "open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
