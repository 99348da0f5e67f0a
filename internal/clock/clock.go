// Package clock abstracts time so reconnect and paint timers can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the client.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable AfterFunc registration.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// a pending timer.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
