package core

import "time"

// Clock is the single source of current time for validity checks.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

func resolveClock(clock Clock) Clock {
	if clock == nil {
		return SystemClock{}
	}
	return clock
}
