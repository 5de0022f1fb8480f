package timex

import "time"

// Clock abstracts wall time so that refresh throttles, remember windows and
// alarms can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by package time.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
