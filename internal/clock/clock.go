// Package clock abstracts time so timers can be driven by hand in tests.
package clock

import "time"

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing; false if it already fired
	// or was stopped.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
