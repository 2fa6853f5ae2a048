package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiterUnlimited(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewHostLimiter(0, 1))
	require.Nil(t, NewHostLimiter(-1, 1))

	var l *HostLimiter
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))
}

func TestHostLimiterThrottlesPerHost(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(10, 1)
	require.NotNil(t, l)

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/p"))
	}
	// Two of the three waits must have consumed roughly 100ms tokens each.
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	// A different host has its own bucket and is not delayed.
	other := time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://other.example/p"))
	require.Less(t, time.Since(other), 50*time.Millisecond)
}

func TestHostLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(0.1, 1)
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}
