package multiplexer

import (
	"errors"
	"slices"
	"time"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
)

var ErrWouldBlockForever = errors.New("simulated wait without deadline or pending readiness")

// Simulated is an in-memory backend on simulated time. Wait advances the
// manual clock instead of sleeping, stopping early at the first scheduled
// readiness injection.
type Simulated struct {
	clock     *clock.Manual
	dirs      [NumDirections]*simulatedMux
	scheduled []injection
	failNext  error

	// Waits records every timeout handed to Wait.
	Waits []time.Duration
}

type injection struct {
	at  clock.Time
	dir Direction
	fd  int
}

type simulatedMux struct {
	entries map[int]*simulatedEntry
	ready   map[int]bool
	refuse  map[int]error
	// Calls counts backend primitive invocations, keyed by primitive name.
	Calls map[string]int
}

type simulatedEntry struct {
	ref Ref
	on  bool
}

func NewSimulated(c *clock.Manual) *Simulated {
	s := &Simulated{clock: c}
	for dir := range s.dirs {
		s.dirs[dir] = &simulatedMux{
			entries: make(map[int]*simulatedEntry),
			ready:   make(map[int]bool),
			refuse:  make(map[int]error),
			Calls:   make(map[string]int),
		}
	}
	return s
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Mux(dir Direction) Mux {
	return s.dirs[dir]
}

// Calls returns how many times primitive was invoked on dir's mux.
func (s *Simulated) Calls(dir Direction, primitive string) int {
	return s.dirs[dir].Calls[primitive]
}

// Registered reports whether fd is known to dir's mux and whether it is on.
func (s *Simulated) Registered(dir Direction, fd int) (known bool, on bool) {
	entry, ok := s.dirs[dir].entries[fd]
	if !ok {
		return false, false
	}
	return true, entry.on
}

// Inject marks fd ready for the next Wait.
func (s *Simulated) Inject(dir Direction, fd int) {
	s.dirs[dir].ready[fd] = true
}

// InjectAt makes fd ready once simulated time reaches at.
func (s *Simulated) InjectAt(at clock.Time, dir Direction, fd int) {
	s.scheduled = append(s.scheduled, injection{at: at, dir: dir, fd: fd})
	slices.SortStableFunc(s.scheduled, func(a, b injection) int {
		switch {
		case a.at < b.at:
			return -1
		case a.at > b.at:
			return 1
		}
		return 0
	})
}

// Refuse makes every Add of fd on dir fail with err.
func (s *Simulated) Refuse(dir Direction, fd int, err error) {
	s.dirs[dir].refuse[fd] = err
}

// FailNext makes the next Wait return err.
func (s *Simulated) FailNext(err error) {
	s.failNext = err
}

func (s *Simulated) Wait(timeout time.Duration) (int, error) {
	s.Waits = append(s.Waits, timeout)
	if err := s.failNext; err != nil {
		s.failNext = nil
		return 0, err
	}

	if n := s.pending(); n > 0 {
		return n, nil
	}

	now := s.clock.Now()
	deadline := now.Add(max(timeout, 0))
	if len(s.scheduled) > 0 && !s.scheduled[0].at.After(deadline) {
		at := s.scheduled[0].at
		if at.After(now) {
			s.clock.Set(at)
		}
		for len(s.scheduled) > 0 && !s.scheduled[0].at.After(at) {
			next := s.scheduled[0]
			s.scheduled = s.scheduled[1:]
			s.Inject(next.dir, next.fd)
		}
		return s.pending(), nil
	}

	if timeout == clock.Forever {
		return 0, ErrWouldBlockForever
	}
	s.clock.Set(deadline)
	return 0, nil
}

func (s *Simulated) pending() int {
	n := 0
	for _, mux := range s.dirs {
		for fd := range mux.ready {
			if entry, ok := mux.entries[fd]; ok && entry.on {
				n++
			}
		}
	}
	return n
}

func (s *Simulated) Limit() int { return 0 }

func (s *Simulated) Close() error { return nil }

func (mux *simulatedMux) Add(fd int, ref Ref) error {
	mux.Calls["add"]++
	if fd < 0 {
		return custom_err.ErrorInvalidDescriptor
	}
	if err := mux.refuse[fd]; err != nil {
		return err
	}
	mux.entries[fd] = &simulatedEntry{ref: ref, on: true}
	return nil
}

func (mux *simulatedMux) Del(fd int) error {
	mux.Calls["del"]++
	delete(mux.entries, fd)
	delete(mux.ready, fd)
	return nil
}

func (mux *simulatedMux) On(fd int) error {
	mux.Calls["on"]++
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	entry.on = true
	return nil
}

func (mux *simulatedMux) Off(fd int) error {
	mux.Calls["off"]++
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	entry.on = false
	return nil
}

// Scan consumes readiness of descriptors that are on. Readiness injected for a
// descriptor that is off stays pending until it is turned back on.
func (mux *simulatedMux) Scan(fn func(ref Ref)) {
	fds := make([]int, 0, len(mux.ready))
	for fd := range mux.ready {
		fds = append(fds, fd)
	}
	slices.Sort(fds)

	for _, fd := range fds {
		entry, ok := mux.entries[fd]
		if !ok {
			delete(mux.ready, fd)
			continue
		}
		if !entry.on {
			continue
		}
		delete(mux.ready, fd)
		fn(entry.ref)
	}
}

func (mux *simulatedMux) Compact() {}
