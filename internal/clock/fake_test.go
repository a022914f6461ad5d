package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	c.Sleep(500 * time.Millisecond)
	c.Sleep(500 * time.Millisecond)

	assert.Equal(t, start.Add(time.Second), c.Now())
	assert.Equal(t, time.Second, c.Elapsed())
	require.Len(t, c.Sleeps(), 2)
}

func TestFakeClock_OnSleepHook(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var seen []time.Time
	c.OnSleep(func(now time.Time) { seen = append(seen, now) })
	c.Sleep(time.Second)

	require.Len(t, seen, 1)
	assert.Equal(t, start.Add(time.Second), seen[0])
}

func TestFakeClock_AdvanceDoesNotRecord(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	c.Advance(time.Minute)

	assert.Equal(t, time.Unix(60, 0), c.Now())
	assert.Empty(t, c.Sleeps())
}
