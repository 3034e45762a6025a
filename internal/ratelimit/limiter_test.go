package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAdmitsUpToLimit(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := counter.CheckAndIncrement(ctx, "alice", 5, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be admitted", i)
	}
	ok, err := counter.CheckAndIncrement(ctx, "alice", 5, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "request over the limit must be denied")
}

func TestWindowsAreIndependentPerKey(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := counter.CheckAndIncrement(ctx, "alice", 3, time.Hour)
		assert.True(t, ok)
	}
	ok, _ := counter.CheckAndIncrement(ctx, "alice", 3, time.Hour)
	assert.False(t, ok)

	ok, _ = counter.CheckAndIncrement(ctx, "bob", 3, time.Hour)
	assert.True(t, ok)
}

func TestWindowRollover(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()
	window := 20 * time.Millisecond

	ok, _ := counter.CheckAndIncrement(ctx, "k", 1, window)
	assert.True(t, ok)
	ok, _ = counter.CheckAndIncrement(ctx, "k", 1, window)
	assert.False(t, ok)

	time.Sleep(window + 5*time.Millisecond)
	ok, _ = counter.CheckAndIncrement(ctx, "k", 1, window)
	assert.True(t, ok, "new window should admit again")
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	counter := NewMemoryCounter()
	ok, err := counter.CheckAndIncrement(context.Background(), "k", 0, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiterCouplesBucketAndWindow(t *testing.T) {
	limiter := NewLimiter(NewMemoryCounter(), Config{
		RequestsPerWindow: 100,
		Window:            time.Hour,
		BurstPerSecond:    1000,
		BurstSize:         2,
	})
	ctx := context.Background()

	// Burst size 2 admits two immediately; the third hits the bucket.
	ok, err := limiter.Allow(ctx, "p")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "p")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "p")
	assert.False(t, ok)
}
