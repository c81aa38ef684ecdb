package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	t.Run("UnlimitedNeverBlocks", func(t *testing.T) {
		l := New(0)

		start := time.Now()
		require.NoError(t, l.WaitN(context.Background(), 100*1024*1024))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("AllowWithinBurst", func(t *testing.T) {
		l := New(1024)

		assert.True(t, l.Allow(1024), "a full second of traffic fits the burst")
		assert.False(t, l.Allow(1024), "the bucket is drained")
	})

	t.Run("WaitPacesSustainedRate", func(t *testing.T) {
		l := New(10 * 1024)

		// Drain the burst, then one more chunk must wait roughly a
		// tenth of a second.
		require.NoError(t, l.WaitN(context.Background(), 10*1024))
		start := time.Now()
		require.NoError(t, l.WaitN(context.Background(), 1024))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("SplitsChunksLargerThanBurst", func(t *testing.T) {
		l := New(64 * 1024)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, l.WaitN(ctx, 128*1024))
	})

	t.Run("CancelledContextStopsWaiting", func(t *testing.T) {
		l := New(1)
		require.NoError(t, l.WaitN(context.Background(), 1))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Error(t, l.WaitN(ctx, 100))
	})

	t.Run("SetRateLiftsLimit", func(t *testing.T) {
		l := New(1)
		l.SetRate(0)

		start := time.Now()
		require.NoError(t, l.WaitN(context.Background(), 10*1024*1024))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})
}
