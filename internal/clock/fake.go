package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Sleep never blocks: it advances the
// fake time by d and records the call, so a bounded poll loop runs to its
// limit instantly.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
	onSleep func(time.Time)
}

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the fake time by d.
func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	if d > 0 {
		c.current = c.current.Add(d)
	}
	c.sleeps = append(c.sleeps, d)
	now := c.current
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}
}

// Advance moves the fake time forward by d without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// OnSleep registers fn to run after every Sleep with the new fake time.
// Tests use it to change external state part way through a poll loop.
func (c *FakeClock) OnSleep(fn func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSleep = fn
}

// Sleeps returns a copy of every duration passed to Sleep.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Elapsed returns the total fake time slept.
func (c *FakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}
