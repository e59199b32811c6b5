package rotation

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The display controller wraps the real clock so
// callbacks run under its lock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// ClockFunc adapts a function to Clock.
type ClockFunc func(d time.Duration, f func()) Timer

func (fn ClockFunc) AfterFunc(d time.Duration, f func()) Timer {
	return fn(d, f)
}

// RealClock uses time.AfterFunc.
var RealClock Clock = ClockFunc(func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
})
