// Package clock abstracts wall-clock time so schedulers can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the bot's timers depend on.
type Clock interface {
	Now() time.Time
	// NewTimer returns a timer that delivers on C once d has elapsed. A
	// non-positive d fires immediately.
	NewTimer(d time.Duration) *Timer
}

// Timer is a stoppable one-shot timer.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// an active timer.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
