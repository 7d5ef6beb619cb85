//go:build linux

package multiplexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"golang.org/x/sys/unix"
)

const minEpollEvents = 16

// Epoll keeps one epoll instance per direction. The three instances are
// themselves registered on a master instance, which is the only one the
// reactor blocks on.
type Epoll struct {
	fd         int
	pollEvents []unix.EpollEvent
	dirs       [NumDirections]*epollMux
}

type epollMux struct {
	fd         int
	mask       uint32
	maxEvents  int
	pollEvents []unix.EpollEvent
	entries    map[int]*epollEntry
	// registered counts descriptors currently in the kernel table.
	registered int
}

type epollEntry struct {
	ref Ref
	on  bool
}

func NewEpoll(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("invalid number of max events: %d", maxEvents)
	}

	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	epoll := &Epoll{
		fd:         epollFD,
		pollEvents: make([]unix.EpollEvent, NumDirections),
	}
	masks := [NumDirections]uint32{unix.EPOLLIN, unix.EPOLLOUT, unix.EPOLLPRI}
	for dir := range epoll.dirs {
		muxFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if err != nil {
			epoll.Close()
			return nil, fmt.Errorf("epoll create: %w", err)
		}
		epoll.dirs[dir] = &epollMux{
			fd:         muxFD,
			mask:       masks[dir],
			maxEvents:  maxEvents,
			pollEvents: make([]unix.EpollEvent, min(minEpollEvents, maxEvents)),
			entries:    make(map[int]*epollEntry),
		}

		err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, muxFD, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(muxFD),
		})
		if err != nil {
			epoll.Close()
			return nil, fmt.Errorf("epoll ctl add %s table: %w", Direction(dir), err)
		}
	}

	return epoll, nil
}

func (epoll *Epoll) Name() string { return "epoll" }

func (epoll *Epoll) Mux(dir Direction) Mux {
	return epoll.dirs[dir]
}

func (epoll *Epoll) Wait(timeout time.Duration) (int, error) {
	numEvents, err := unix.EpollWait(epoll.fd, epoll.pollEvents, clock.Millis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, fmt.Errorf("error waiting for events: %w", err)
	}

	return numEvents, nil
}

func (epoll *Epoll) Limit() int { return 0 }

func (epoll *Epoll) Close() error {
	var errs []error
	for _, mux := range epoll.dirs {
		if mux != nil {
			errs = append(errs, unix.Close(mux.fd))
		}
	}
	errs = append(errs, unix.Close(epoll.fd))
	return errors.Join(errs...)
}

func (mux *epollMux) event(ref Ref) *unix.EpollEvent {
	// Fd and Pad are opaque user data to the kernel.
	return &unix.EpollEvent{
		Events: mux.mask,
		Fd:     int32(ref.Index),
		Pad:    int32(ref.Gen),
	}
}

func (mux *epollMux) Add(fd int, ref Ref) error {
	if fd < 0 {
		return custom_err.ErrorInvalidDescriptor
	}

	err := unix.EpollCtl(mux.fd, unix.EPOLL_CTL_ADD, fd, mux.event(ref))
	if err == unix.EEXIST {
		err = unix.EpollCtl(mux.fd, unix.EPOLL_CTL_MOD, fd, mux.event(ref))
	}
	if err != nil {
		return fmt.Errorf("error adding fd %d to watch list: %w", fd, err)
	}

	if entry, ok := mux.entries[fd]; ok {
		entry.ref = ref
		if !entry.on {
			entry.on = true
			mux.registered++
		}
	} else {
		mux.entries[fd] = &epollEntry{ref: ref, on: true}
		mux.registered++
	}

	if mux.registered > len(mux.pollEvents) && len(mux.pollEvents) < mux.maxEvents {
		mux.pollEvents = make([]unix.EpollEvent, min(2*len(mux.pollEvents), mux.maxEvents))
	}
	return nil
}

func (mux *epollMux) Del(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return nil
	}
	delete(mux.entries, fd)
	if !entry.on {
		return nil
	}
	mux.registered--
	return mux.ctlDel(fd)
}

func (mux *epollMux) ctlDel(fd int) error {
	err := unix.EpollCtl(mux.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		// Closed before we got here; the kernel already dropped it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("error removing fd %d from watch list: %w", fd, err)
	}
	return nil
}

// On and Off add and remove the kernel registration rather than clearing the
// event mask: epoll keeps reporting EPOLLHUP/EPOLLERR on an empty mask.
func (mux *epollMux) On(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	if entry.on {
		return nil
	}

	err := unix.EpollCtl(mux.fd, unix.EPOLL_CTL_ADD, fd, mux.event(entry.ref))
	if err != nil && err != unix.EEXIST {
		return fmt.Errorf("error resuming fd %d: %w", fd, err)
	}
	entry.on = true
	mux.registered++
	return nil
}

func (mux *epollMux) Off(fd int) error {
	entry, ok := mux.entries[fd]
	if !ok {
		return custom_err.ErrorNotRegistered
	}
	if !entry.on {
		return nil
	}
	entry.on = false
	mux.registered--
	return mux.ctlDel(fd)
}

func (mux *epollMux) Scan(fn func(ref Ref)) {
	var (
		numEvents int
		err       error
	)
	for {
		numEvents, err = unix.EpollWait(mux.fd, mux.pollEvents, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return
	}

	for _, event := range mux.pollEvents[:numEvents] {
		if mux.mask == unix.EPOLLPRI && event.Events&unix.EPOLLPRI == 0 {
			// Hangups are always reported; they are not exceptional conditions.
			continue
		}
		fn(Ref{Index: uint32(event.Fd), Gen: uint32(event.Pad)})
	}
}

func (mux *epollMux) Compact() {
	size := len(mux.pollEvents)
	if size <= minEpollEvents || mux.registered >= size/4 {
		return
	}
	mux.pollEvents = make([]unix.EpollEvent, max(size/2, mux.registered, minEpollEvents))
}
