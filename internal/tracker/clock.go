package tracker

import "time"

// Clock is the time source for debounce windows and eviction. Production
// code uses the wall clock; tests substitute a manual one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

type wallClock struct{}

// WallClock returns the Clock backed by package time.
func WallClock() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
