//go:build darwin

package multiplexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"golang.org/x/sys/unix"
)

const minKqEvents = 16

// Kqueue mirrors Epoll: a kqueue per direction, all three nested in a master
// kqueue. Readiness is mapped back through the Ident of each kevent.
type Kqueue struct {
	fd       int
	kqEvents []unix.Kevent_t
	dirs     [NumDirections]*kqueueMux
}

type kqueueMux struct {
	fd         int
	filter     int16
	fflags     uint32
	maxEvents  int
	kqEvents   []unix.Kevent_t
	entries    map[int]*kqueueEntry
	registered int
}

type kqueueEntry struct {
	ref Ref
	on  bool
}

func NewKqueue(maxEvents int) (*Kqueue, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("invalid number of max events: %d", maxEvents)
	}

	kqFD, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue create: %w", err)
	}

	kq := &Kqueue{
		fd:       kqFD,
		kqEvents: make([]unix.Kevent_t, NumDirections),
	}
	filters := [NumDirections]int16{unix.EVFILT_READ, unix.EVFILT_WRITE, unix.EVFILT_EXCEPT}
	fflags := [NumDirections]uint32{0, 0, unix.NOTE_OOB}
	for dir := range kq.dirs {
		muxFD, err := unix.Kqueue()
		if err != nil {
			kq.Close()
			return nil, fmt.Errorf("kqueue create: %w", err)
		}
		kq.dirs[dir] = &kqueueMux{
			fd:        muxFD,
			filter:    filters[dir],
			fflags:    fflags[dir],
			maxEvents: maxEvents,
			kqEvents:  make([]unix.Kevent_t, min(minKqEvents, maxEvents)),
			entries:   make(map[int]*kqueueEntry),
		}

		var event unix.Kevent_t
		unix.SetKevent(&event, muxFD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
		if _, err := unix.Kevent(kqFD, []unix.Kevent_t{event}, nil, nil); err != nil {
			kq.Close()
			return nil, fmt.Errorf("kqueue add %s table: %w", Direction(dir), err)
		}
	}

	return kq, nil
}

func (kq *Kqueue) Name() string { return "kqueue" }

func (kq *Kqueue) Mux(dir Direction) Mux {
	return kq.dirs[dir]
}

func (kq *Kqueue) Wait(timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout != clock.Forever {
		spec := unix.NsecToTimespec(int64(max(timeout, 0)))
		ts = &spec
	}

	numEvents, err := unix.Kevent(kq.fd, nil, kq.kqEvents, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, fmt.Errorf("error waiting for events: %w", err)
	}
	return numEvents, nil
}

func (kq *Kqueue) Limit() int { return 0 }

func (kq *Kqueue) Close() error {
	var errs []error
	for _, mux := range kq.dirs {
		if mux != nil {
			errs = append(errs, unix.Close(mux.fd))
		}
	}
	errs = append(errs, unix.Close(kq.fd))
	return errors.Join(errs...)
}

func (mux *kqueueMux) change(fd int, flags int) error {
	var event unix.Kevent_t
	unix.SetKevent(&event, fd, int(mux.filter), flags)
	event.Fflags = mux.fflags
	_, err := unix.Kevent(mux.fd, []unix.Kevent_t{event}, nil, nil)
	return err
}

func (mux *kqueueMux) Add(fd int, ref Ref) error {
	if fd < 0 {
		return custom_err.ErrorInvalidDescriptor
	}

	// EV_ADD on an existing kevent modifies it, so re-adding is already idempotent.
	if err := mux.change(fd, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return fmt.Errorf("error adding fd %d to watch list: %w", fd, err)
	}

	if entry, ok := mux.entries[fd]; ok {
		entry.ref = ref
		if !entry.on {
			entry.on = true
			mux.registered++
		}
	} else {
		mux.entries[fd] = &kqueueEntry{ref: ref, on: true}
		mux.registered++
	}

	if mux.registered > len(mux.kqEvents) && len(mux.kqEvents) < mux.maxEvents {
		mux.kqEvents = make([]unix.Kevent_t, min(2*len(mux.kqEvents), mux.maxEvents))
	}
	return nil
}

func (mux *kqueueMux) Del(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return nil
	}
	delete(mux.entries, fd)
	if !entry.on {
		return nil
	}
	mux.registered--
	return mux.remove(fd)
}

func (mux *kqueueMux) remove(fd int) error {
	err := mux.change(fd, unix.EV_DELETE)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error removing fd %d from watch list: %w", fd, err)
	}
	return nil
}

func (mux *kqueueMux) On(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	if entry.on {
		return nil
	}
	if err := mux.change(fd, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return fmt.Errorf("error resuming fd %d: %w", fd, err)
	}
	entry.on = true
	mux.registered++
	return nil
}

func (mux *kqueueMux) Off(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	if !entry.on {
		return nil
	}
	entry.on = false
	mux.registered--
	return mux.remove(fd)
}

func (mux *kqueueMux) Scan(fn func(ref Ref)) {
	var (
		numEvents int
		err       error
		zero      unix.Timespec
	)
	for {
		numEvents, err = unix.Kevent(mux.fd, nil, mux.kqEvents, &zero)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return
	}

	for _, event := range mux.kqEvents[:numEvents] {
		entry, ok := mux.entries[int(event.Ident)]
		if !ok || !entry.on {
			continue
		}
		fn(entry.ref)
	}
}

func (mux *kqueueMux) Compact() {
	size := len(mux.kqEvents)
	if size <= minKqEvents || mux.registered >= size/4 {
		return
	}
	mux.kqEvents = make([]unix.Kevent_t, max(size/2, mux.registered, minKqEvents))
}
