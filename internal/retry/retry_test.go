package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithExponentialBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestWithExponentialBackoff_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoff_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestWithExponentialBackoff_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		return errors.New("down")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.DeadlineExceeded)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 4))
}
