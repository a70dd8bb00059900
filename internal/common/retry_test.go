package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-match/internal/service"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &RetryableError{Err: errors.New("unavailable"), Retryable: true}
		}
		return nil
	}, fastRetry(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("forbidden")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return permanent
	}, fastRetry(5))

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return NewProviderError("openai", ProviderTimeout, errors.New("slow"))
	}, fastRetry(3))

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
	assert.Equal(t, ProviderTimeout, ProviderErrorKindOf(err))
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return &RetryableError{Err: errors.New("unavailable"), Retryable: true}
	}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffSchedule(t *testing.T) {
	b := newBackoff(service.RetryOptions{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
	})
	plain := errors.New("flaky")

	assert.Equal(t, 10*time.Millisecond, b.wait(plain))
	assert.Equal(t, 20*time.Millisecond, b.wait(plain))
	assert.Equal(t, 50*time.Millisecond, b.wait(ErrRateLimit))
	assert.Equal(t, 30*time.Millisecond, b.wait(&RetryableError{Err: plain, After: 30 * time.Millisecond, Retryable: true}))
	assert.Equal(t, 50*time.Millisecond, b.wait(&RetryableError{Err: plain, After: time.Minute, Retryable: true}))
	assert.Equal(t, 50*time.Millisecond, b.wait(plain))
}

func TestNewBackoffDefaults(t *testing.T) {
	b := newBackoff(service.RetryOptions{})
	assert.Equal(t, 3, b.opts.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, b.next)
	assert.Equal(t, 30*time.Second, b.opts.MaxDelay)
}
