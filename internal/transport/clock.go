package transport

import "time"

// Clock abstracts wall time and bounded blocking delays so tests can run
// the pacing and timeout paths instantaneously.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}
