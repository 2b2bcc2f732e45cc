package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 3, OpenDuration: time.Second}).WithClock(clock)

	require.True(t, b.Allow("udp-1"))
	b.RecordFailure("udp-1")
	b.RecordFailure("udp-1")
	require.True(t, b.Allow("udp-1"))
	b.RecordFailure("udp-1")

	require.False(t, b.Allow("udp-1"))
	require.Equal(t, "open", b.Snapshot("udp-1").State)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 1, OpenDuration: time.Second, HalfOpenSuccesses: 2}).WithClock(clock)

	b.RecordFailure("ws-1")
	require.False(t, b.Allow("ws-1"))

	clock.now = clock.now.Add(2 * time.Second)
	require.True(t, b.Allow("ws-1")) // half-open probe allowed
	require.Equal(t, "half_open", b.Snapshot("ws-1").State)

	b.RecordSuccess("ws-1")
	b.RecordSuccess("ws-1")
	require.Equal(t, "closed", b.Snapshot("ws-1").State)
}

func TestNextDelayCapsExponentialGrowth(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, NextDelay(0, 100*time.Millisecond, time.Second))
	require.Equal(t, 200*time.Millisecond, NextDelay(1, 100*time.Millisecond, time.Second))
	require.Equal(t, 400*time.Millisecond, NextDelay(2, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, NextDelay(10, 100*time.Millisecond, time.Second))
}
