package peer

import "time"

// Clock is the time source every timer and timestamp in this package reads
// through, so tests can drive handshake timeouts, ping schedules and the
// inactivity watchdog deterministically instead of sleeping on a wall clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of time.Timer a Clock hands back.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct{}

// RealClock is the production Clock, backed by the standard library.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
