package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream 503")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      3,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 2,
	})
	cb.now = func() time.Time { return *clock }
	cb.lastStateChange = *clock
	return cb
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock = clock.Add(2 * time.Minute)

	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock = clock.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	notFound := errors.New("404")
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      2,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 5, cb.GetStats().Successes)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, cb.Execute(ctx, succeed), context.Canceled)
}
