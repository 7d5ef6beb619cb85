//go:build linux || darwin

package multiplexer

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"golang.org/x/sys/unix"
)

// SelectLimit is FD_SETSIZE: select(2) cannot watch a descriptor at or above it.
var SelectLimit = int(unsafe.Sizeof(unix.FdSet{})) * 8

// Select is the portable fallback. Each direction owns an interest bitmap
// that is copied into a result bitmap for every wait.
type Select struct {
	dirs [NumDirections]*selectMux
}

type selectMux struct {
	interest unix.FdSet
	result   unix.FdSet
	entries  map[int]*selectEntry
	maxFd    int
}

type selectEntry struct {
	ref Ref
	on  bool
}

func NewSelect(maxEvents int) (*Select, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("invalid number of max events: %d", maxEvents)
	}

	s := &Select{}
	for dir := range s.dirs {
		s.dirs[dir] = &selectMux{entries: make(map[int]*selectEntry), maxFd: -1}
	}
	return s, nil
}

func (s *Select) Name() string { return "select" }

func (s *Select) Mux(dir Direction) Mux {
	return s.dirs[dir]
}

func (s *Select) Wait(timeout time.Duration) (int, error) {
	nfd := 0
	for _, mux := range s.dirs {
		mux.result = mux.interest
		nfd = max(nfd, mux.maxFd+1)
	}

	var tv *unix.Timeval
	if timeout != clock.Forever {
		// Round up to the microsecond so a sub-microsecond wait is not a spin.
		usec := (int64(max(timeout, 0)) + 999) / 1000
		t := unix.NsecToTimeval(usec * 1000)
		tv = &t
	}

	numEvents, err := unix.Select(nfd, &s.dirs[Read].result, &s.dirs[Write].result, &s.dirs[Except].result, tv)
	if err != nil {
		for _, mux := range s.dirs {
			mux.result.Zero()
		}
		if err == unix.EINTR {
			return 0, err
		}
		return 0, fmt.Errorf("error waiting for events: %w", err)
	}
	return numEvents, nil
}

func (s *Select) Limit() int { return SelectLimit }

func (s *Select) Close() error {
	for _, mux := range s.dirs {
		mux.interest.Zero()
		mux.result.Zero()
		mux.entries = make(map[int]*selectEntry)
		mux.maxFd = -1
	}
	return nil
}

func (mux *selectMux) Add(fd int, ref Ref) error {
	if fd < 0 {
		return custom_err.ErrorInvalidDescriptor
	}
	if fd >= SelectLimit {
		return fmt.Errorf("fd %d, limit %d: %w", fd, SelectLimit, custom_err.ErrorDescriptorLimit)
	}

	if entry, ok := mux.entries[fd]; ok {
		entry.ref = ref
		entry.on = true
	} else {
		mux.entries[fd] = &selectEntry{ref: ref, on: true}
	}
	mux.interest.Set(fd)
	mux.maxFd = max(mux.maxFd, fd)
	return nil
}

func (mux *selectMux) Del(fd int) error {
	if _, ok := mux.entries[fd]; !ok {
		return nil
	}
	delete(mux.entries, fd)
	mux.interest.Clear(fd)
	mux.result.Clear(fd)
	if fd == mux.maxFd {
		mux.maxFd = -1
		for other := range mux.entries {
			mux.maxFd = max(mux.maxFd, other)
		}
	}
	return nil
}

func (mux *selectMux) On(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	entry.on = true
	mux.interest.Set(fd)
	return nil
}

func (mux *selectMux) Off(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	entry.on = false
	mux.interest.Clear(fd)
	return nil
}

func (mux *selectMux) Scan(fn func(ref Ref)) {
	for fd := 0; fd <= mux.maxFd; fd++ {
		if !mux.result.IsSet(fd) {
			continue
		}
		if entry, ok := mux.entries[fd]; ok && entry.on {
			fn(entry.ref)
		}
	}
}

// Compact is a no-op: the bitmaps are fixed size.
func (mux *selectMux) Compact() {}
