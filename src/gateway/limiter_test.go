package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentifyLimiterConsumesQuota(t *testing.T) {
	l := NewIdentifyLimiter(SessionStartLimit{
		Total:          1000,
		Remaining:      2,
		ResetAfter:     int64(time.Hour / time.Millisecond),
		MaxConcurrency: 4,
	}, time.Millisecond, discardLogger())

	ctx := context.Background()
	_, err := l.Wait(ctx, 0)
	require.NoError(t, err)
	_, err = l.Wait(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 0, l.Remaining())
}

func TestIdentifyLimiterExhaustedWaitsForReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewIdentifyLimiter(SessionStartLimit{}, time.Millisecond, discardLogger())
	l.now = func() time.Time { return now }
	l.Update(SessionStartLimit{Total: 5, Remaining: 0, ResetAfter: 60_000, MaxConcurrency: 1})

	wait, bucket, _ := l.reserve(0)
	require.Nil(t, bucket)
	require.Equal(t, time.Minute, wait)

	now = now.Add(time.Minute)
	wait, bucket, _ = l.reserve(0)
	require.NotNil(t, bucket)
	require.Zero(t, wait)
	require.Equal(t, 4, l.Remaining())

	// The refill starts a new day-long window.
	l.mu.Lock()
	resetAt := l.resetAt
	l.mu.Unlock()
	require.Equal(t, now.Add(24*time.Hour), resetAt)
}

func TestIdentifyLimiterWaitHonoursContext(t *testing.T) {
	l := NewIdentifyLimiter(SessionStartLimit{
		Total:          1,
		Remaining:      0,
		ResetAfter:     int64(time.Hour / time.Millisecond),
		MaxConcurrency: 1,
	}, 0, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Wait(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, l.Remaining())
}

func TestIdentifyLimiterBucketsByConcurrency(t *testing.T) {
	window := 100 * time.Millisecond
	l := NewIdentifyLimiter(SessionStartLimit{
		Total:          100,
		Remaining:      100,
		ResetAfter:     int64(time.Hour / time.Millisecond),
		MaxConcurrency: 2,
	}, window, discardLogger())
	ctx := context.Background()

	// Shards 0 and 1 land in different buckets and go together.
	start := time.Now()
	_, err := l.Wait(ctx, 0)
	require.NoError(t, err)
	_, err = l.Wait(ctx, 1)
	require.NoError(t, err)
	require.Less(t, time.Since(start), window/2)

	// Shard 2 shares bucket 0 with shard 0 and has to wait out the window.
	_, err = l.Wait(ctx, 2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), window*8/10)
	require.Equal(t, 97, l.Remaining())
}

func TestIdentifyLimiterReleaseReturnsSessionStart(t *testing.T) {
	l := NewIdentifyLimiter(SessionStartLimit{
		Total:          10,
		Remaining:      5,
		ResetAfter:     int64(time.Hour / time.Millisecond),
		MaxConcurrency: 1,
	}, time.Millisecond, discardLogger())

	release, err := l.Wait(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 4, l.Remaining())

	release()
	require.Equal(t, 5, l.Remaining())
	release()
	require.Equal(t, 5, l.Remaining())
}

func TestIdentifyLimiterReleaseAfterRefillIsIgnored(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewIdentifyLimiter(SessionStartLimit{}, time.Millisecond, discardLogger())
	l.now = func() time.Time { return now }
	l.Update(SessionStartLimit{Total: 3, Remaining: 1, ResetAfter: 1000, MaxConcurrency: 1})

	release, err := l.Wait(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, l.Remaining())

	// A fresh snapshot replaces the window the start was taken from.
	l.Update(SessionStartLimit{Total: 3, Remaining: 2, ResetAfter: 5000, MaxConcurrency: 1})
	release()
	require.Equal(t, 2, l.Remaining())
}

func TestIdentifyLimiterDefaults(t *testing.T) {
	l := NewIdentifyLimiter(SessionStartLimit{Total: 1, Remaining: 1}, 0, nil)
	require.Equal(t, identifyWindow, l.window)
	require.Equal(t, 1, l.maxConcurrency)
}
