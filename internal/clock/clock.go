// Package clock abstracts time so poll loops can be tested without sleeping.
package clock

import "time"

// Clock is the subset of the time package used by polling code. Production
// code uses Real(); tests use Fake() to step time deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
