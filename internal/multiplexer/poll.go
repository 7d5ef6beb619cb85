//go:build linux || darwin

package multiplexer

import (
	"fmt"
	"time"

	"github.com/Viet-ph/reactor/clock"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"golang.org/x/sys/unix"
)

var (
	pollInterest = [NumDirections]int16{unix.POLLIN, unix.POLLOUT, unix.POLLPRI}
	pollReady    = [NumDirections]int16{
		unix.POLLIN | unix.POLLHUP | unix.POLLERR,
		unix.POLLOUT | unix.POLLHUP | unix.POLLERR,
		unix.POLLPRI,
	}
)

// Poll shares one pollfd array between all directions: a descriptor watched
// for read and write occupies a single tuple with both interest bits set.
type Poll struct {
	pollFds []unix.PollFd
	slots   []pollSlot
	index   map[int]int
	dirs    [NumDirections]*pollMux
}

// pollSlot is parallel to pollFds.
type pollSlot struct {
	fd   int
	refs [NumDirections]Ref
	// added has a bit per direction that holds a registration, on or off.
	added uint8
}

type pollMux struct {
	poll *Poll
	dir  Direction
}

func NewPoll(maxEvents int) (*Poll, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("invalid number of max events: %d", maxEvents)
	}

	p := &Poll{
		pollFds: make([]unix.PollFd, 0, maxEvents),
		slots:   make([]pollSlot, 0, maxEvents),
		index:   make(map[int]int),
	}
	for dir := range p.dirs {
		p.dirs[dir] = &pollMux{poll: p, dir: Direction(dir)}
	}
	return p, nil
}

func (p *Poll) Name() string { return "poll" }

func (p *Poll) Mux(dir Direction) Mux {
	return p.dirs[dir]
}

func (p *Poll) Wait(timeout time.Duration) (int, error) {
	numEvents, err := unix.Poll(p.pollFds, clock.Millis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, fmt.Errorf("error waiting for events: %w", err)
	}
	return numEvents, nil
}

func (p *Poll) Limit() int { return 0 }

func (p *Poll) Close() error {
	p.pollFds = nil
	p.slots = nil
	p.index = make(map[int]int)
	return nil
}

// release drops the tuple at i by moving the last tuple into its place.
func (p *Poll) release(i int) {
	last := len(p.pollFds) - 1
	delete(p.index, p.slots[i].fd)
	if i != last {
		p.pollFds[i] = p.pollFds[last]
		p.slots[i] = p.slots[last]
		p.index[p.slots[i].fd] = i
	}
	p.pollFds = p.pollFds[:last]
	p.slots = p.slots[:last]
}

// compact halves the arrays once they are less than a quarter full, never
// below what is in use.
func (p *Poll) compact() {
	size := cap(p.pollFds)
	if size <= minPollFds || len(p.pollFds) >= size/4 {
		return
	}
	newSize := max(size/2, len(p.pollFds), minPollFds)
	pollFds := make([]unix.PollFd, len(p.pollFds), newSize)
	copy(pollFds, p.pollFds)
	slots := make([]pollSlot, len(p.slots), newSize)
	copy(slots, p.slots)
	p.pollFds, p.slots = pollFds, slots
}

const minPollFds = 16

// setEvents updates the interest mask. A tuple with no interest left gets a
// negative fd so poll(2) skips it instead of reporting POLLHUP for it.
func (p *Poll) setEvents(i int, events int16) {
	p.pollFds[i].Events = events
	if events == 0 {
		p.pollFds[i].Fd = -1
	} else {
		p.pollFds[i].Fd = int32(p.slots[i].fd)
	}
}

func (mux *pollMux) bit() uint8 { return 1 << mux.dir }

func (mux *pollMux) Add(fd int, ref Ref) error {
	if fd < 0 {
		return custom_err.ErrorInvalidDescriptor
	}

	p := mux.poll
	i, ok := p.index[fd]
	if !ok {
		i = len(p.pollFds)
		p.pollFds = append(p.pollFds, unix.PollFd{Fd: -1})
		p.slots = append(p.slots, pollSlot{fd: fd})
		p.index[fd] = i
	}
	p.slots[i].refs[mux.dir] = ref
	p.slots[i].added |= mux.bit()
	p.setEvents(i, p.pollFds[i].Events|pollInterest[mux.dir])
	return nil
}

func (mux *pollMux) Del(fd int) error {
	p := mux.poll
	i, ok := p.index[fd]
	if !ok || p.slots[i].added&mux.bit() == 0 {
		return nil
	}
	p.slots[i].added &^= mux.bit()
	p.slots[i].refs[mux.dir] = Ref{}
	p.setEvents(i, p.pollFds[i].Events&^pollInterest[mux.dir])
	if p.slots[i].added == 0 {
		p.release(i)
	}
	return nil
}

func (mux *pollMux) On(fd int) error {
	p := mux.poll
	i, ok := p.index[fd]
	if !ok || p.slots[i].added&mux.bit() == 0 {
		return custom_err.ErrorNotRegistered
	}
	p.setEvents(i, p.pollFds[i].Events|pollInterest[mux.dir])
	return nil
}

func (mux *pollMux) Off(fd int) error {
	p := mux.poll
	i, ok := p.index[fd]
	if !ok || p.slots[i].added&mux.bit() == 0 {
		return custom_err.ErrorNotRegistered
	}
	p.setEvents(i, p.pollFds[i].Events&^pollInterest[mux.dir])
	return nil
}

func (mux *pollMux) Scan(fn func(ref Ref)) {
	p := mux.poll
	interest, ready := pollInterest[mux.dir], pollReady[mux.dir]
	for i := range p.pollFds {
		pfd := &p.pollFds[i]
		if pfd.Events&interest == 0 || pfd.Revents&ready == 0 {
			continue
		}
		fn(p.slots[i].refs[mux.dir])
	}
}

func (mux *pollMux) Compact() {
	mux.poll.compact()
}
