package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(60)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	for i := 0; i < 60; i++ {
		require.Zero(t, rl.reserve(), "token %d", i)
	}
	assert.Equal(t, time.Second, rl.reserve())

	now = now.Add(2 * time.Second)
	assert.Zero(t, rl.reserve())
	assert.Zero(t, rl.reserve())
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := newRateLimiter(1)
	require.NoError(t, rl.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
