package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvancesTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	fake.Sleep(1500 * time.Millisecond)
	fake.Advance(time.Second)
	fake.Sleep(0)

	require.Equal(t, start.Add(2500*time.Millisecond), fake.Now())
	require.Equal(t, []time.Duration{1500 * time.Millisecond, 0}, fake.Sleeps())
}

func TestRealNowMovesForward(t *testing.T) {
	var c Clock = Real{}
	before := c.Now()
	c.Sleep(time.Millisecond)
	require.True(t, c.Now().After(before))
}
