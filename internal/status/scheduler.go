package status

import "time"

// Timer is a cancellable delayed task.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts timer creation and the clock so tests can drive
// time manually.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// realScheduler is the wall-clock Scheduler.
type realScheduler struct{}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}
