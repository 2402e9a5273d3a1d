package rpcreply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPollLimiterAllowsWithinRateThenRefuses covers the sliding-window
// shape re-expressed from the teacher's go-catrate design: once a window's
// count is exhausted, Allow refuses and reports when a slot frees up.
func TestPollLimiterAllowsWithinRateThenRefuses(t *testing.T) {
	l := newPollLimiter(map[time.Duration]int{100 * time.Millisecond: 2})
	base := time.Unix(1_700_000_000, 0)

	_, ok := l.Allow(base)
	require.True(t, ok)
	_, ok = l.Allow(base.Add(10 * time.Millisecond))
	require.True(t, ok)

	next, ok := l.Allow(base.Add(20 * time.Millisecond))
	require.False(t, ok)
	require.True(t, next.After(base.Add(20*time.Millisecond)))

	// once the window has slid past the first event, a slot frees up
	_, ok = l.Allow(base.Add(101 * time.Millisecond))
	require.True(t, ok)
}

// TestPollLimiterDisabledWithoutRates covers the "nil/empty rates map
// disables limiting" case Session relies on by default.
func TestPollLimiterDisabledWithoutRates(t *testing.T) {
	l := newPollLimiter(nil)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		_, ok := l.Allow(now)
		require.True(t, ok)
	}
}
