// Package clock abstracts time so that delays and timestamp-gated write
// policies can be driven deterministically in tests.
package clock

import "time"

// Clock is injected wherever code would otherwise call time.Now or
// time.After directly.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
