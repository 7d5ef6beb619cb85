// Package clock provides the monotonic instant type the reactor schedules against.
package clock

import (
	"math"
	"time"
)

// Forever is the wait budget meaning "no deadline".
const Forever = time.Duration(math.MaxInt64)

// Time is a monotonic instant in nanoseconds since the clock's epoch.
type Time int64

func (t Time) Sub(u Time) time.Duration {
	return time.Duration(int64(t) - int64(u))
}

func (t Time) Add(d time.Duration) Time {
	if d == Forever {
		return Time(math.MaxInt64)
	}
	return t + Time(d)
}

func (t Time) Before(u Time) bool { return t < u }
func (t Time) After(u Time) bool  { return t > u }
func (t Time) Equal(u Time) bool  { return t == u }

type Clock interface {
	Now() Time
}

// System reads the process monotonic clock.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Now() Time {
	return Time(time.Since(s.start))
}

// Manual only moves when told to. Simulated backends advance it in place of sleeping.
type Manual struct {
	now Time
}

func NewManual(start Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() Time { return m.now }

func (m *Manual) Advance(d time.Duration) {
	if d > 0 {
		m.now = m.now.Add(d)
	}
}

func (m *Manual) Set(t Time) {
	m.now = t
}

// Millis converts a wait budget to a poll(2)/epoll_wait(2) timeout.
// Forever maps to -1 and partial milliseconds round up so a pending timer never
// turns into a busy loop of zero-length waits.
func Millis(d time.Duration) int {
	if d == Forever {
		return -1
	}
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func Min(d time.Duration, ds ...time.Duration) time.Duration {
	for _, v := range ds {
		if v < d {
			d = v
		}
	}
	return d
}
