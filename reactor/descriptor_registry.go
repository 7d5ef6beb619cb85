package reactor

import (
	"time"

	"github.com/Viet-ph/reactor/clock"
	mul "github.com/Viet-ph/reactor/internal/multiplexer"
	"go.uber.org/zap"
)

type entryState uint8

const (
	// entryEnabled is registered but not yet pushed to the backend.
	entryEnabled entryState = iota
	entryObserved
	// entryDisabled is waiting for the backend removal.
	entryDisabled
	// entryUnobserved is gone from the backend, teardown pending.
	entryUnobserved
)

type entry struct {
	h     *Handle
	fd    int
	state entryState
	// on mirrors what the backend was last told by On/Off.
	on     bool
	queued bool
	err    error
}

// descriptorRegistry owns the handles of one direction. Handle operations
// only retag entries; the backend sees the net effect at the next flush.
type descriptorRegistry struct {
	reactor *Reactor
	dir     Direction
	mux     mul.Mux

	live     map[int]*entry
	order    []*entry
	added    []*entry
	toggles  []*entry
	retiring []*entry
	ready    []mul.Ref
}

func newDescriptorRegistry(r *Reactor, dir Direction, mux mul.Mux) *descriptorRegistry {
	return &descriptorRegistry{
		reactor: r,
		dir:     dir,
		mux:     mux,
		live:    make(map[int]*entry),
	}
}

func (reg *descriptorRegistry) log() *zap.Logger {
	return reg.reactor.log
}

func (reg *descriptorRegistry) enable(h *Handle, fd int) bool {
	if _, busy := reg.live[fd]; busy {
		reg.log().Debug("descriptor already watched",
			zap.Int("fd", fd), zap.Stringer("direction", reg.dir))
		return false
	}

	e := &entry{h: h, fd: fd, state: entryEnabled}
	h.entry = e
	h.ref = reg.reactor.arena.alloc(h)
	reg.live[fd] = e
	reg.order = append(reg.order, e)
	reg.added = append(reg.added, e)
	return true
}

func (reg *descriptorRegistry) disable(h *Handle) {
	e := h.entry
	if e == nil {
		return
	}

	switch e.state {
	case entryEnabled:
		// Never reached the backend, only the teardown is left.
		e.state = entryUnobserved
	case entryObserved:
		e.state = entryDisabled
	case entryDisabled, entryUnobserved:
		return
	}
	// The entry keeps fd in live until the reap, so no other handle can Add
	// fd ahead of this one's Del.
	reg.retiring = append(reg.retiring, e)
}

func (reg *descriptorRegistry) toggle(h *Handle) {
	e := h.entry
	if e == nil || e.state != entryObserved || e.queued {
		return
	}
	e.queued = true
	reg.toggles = append(reg.toggles, e)
}

// fail drops an entry the backend refused. The handle gets its OnClose with
// err at the next reap. registered says the backend may still hold fd.
func (reg *descriptorRegistry) fail(e *entry, err error, registered bool) {
	reg.log().Warn("backend refused descriptor",
		zap.Int("fd", e.fd), zap.Stringer("direction", reg.dir), zap.Error(err))

	e.state = entryUnobserved
	if registered {
		e.state = entryDisabled
	}
	e.err = err
	e.h.state = Disabled
	e.h.observed = false
	reg.retiring = append(reg.retiring, e)
}

func (reg *descriptorRegistry) observeEnabledEvents() {
	for _, e := range reg.toggles {
		e.queued = false
		if e.state != entryObserved {
			continue
		}
		want := e.h.state == Enabled
		if want == e.on {
			continue
		}

		var err error
		if want {
			err = reg.mux.On(e.fd)
		} else {
			err = reg.mux.Off(e.fd)
		}
		if err != nil {
			reg.fail(e, err, true)
			continue
		}
		e.on = want
	}
	clear(reg.toggles)
	reg.toggles = reg.toggles[:0]

	for _, e := range reg.added {
		if e.state != entryEnabled {
			continue
		}
		if err := reg.mux.Add(e.fd, e.h.ref); err != nil {
			reg.fail(e, err, false)
			continue
		}
		e.state = entryObserved
		e.on = true
		e.h.observed = true

		if e.h.state == Suspended {
			if err := reg.mux.Off(e.fd); err != nil {
				reg.fail(e, err, true)
				continue
			}
			e.on = false
		}
	}
	clear(reg.added)
	reg.added = reg.added[:0]
}

func (reg *descriptorRegistry) unobserveDisabledEvents(now clock.Time) int {
	// Teardown callbacks may disable more handles; those are reaped in this pass too.
	for i := 0; i < len(reg.retiring); i++ {
		e := reg.retiring[i]
		if e.state == entryDisabled {
			if err := reg.mux.Del(e.fd); err != nil {
				reg.log().Warn("error removing descriptor from backend",
					zap.Int("fd", e.fd), zap.Stringer("direction", reg.dir), zap.Error(err))
			}
			e.h.observed = false
			e.state = entryUnobserved
		}

		if reg.live[e.fd] == e {
			delete(reg.live, e.fd)
		}
		h := e.h
		reg.reactor.arena.release(h.ref)
		h.entry = nil
		reg.reactor.metrics.Teardown(reg.dir.String())
		if h.cb.OnClose != nil {
			h.cb.OnClose(h, e.err)
		}
	}
	n := len(reg.retiring)
	clear(reg.retiring)
	reg.retiring = reg.retiring[:0]
	return n
}

func (reg *descriptorRegistry) dispatchActiveEvents(now clock.Time) int {
	reg.ready = reg.ready[:0]
	reg.mux.Scan(func(ref mul.Ref) {
		reg.ready = append(reg.ready, ref)
	})

	dispatched := 0
	for _, ref := range reg.ready {
		h := reg.reactor.arena.get(ref)
		if h == nil {
			reg.log().Debug("stale readiness", zap.Uint32("index", ref.Index), zap.Uint32("gen", ref.Gen))
			continue
		}
		// Suspended or disabled earlier in this tick.
		if h.registry != reg || h.entry == nil || h.entry.state != entryObserved || h.state != Enabled {
			continue
		}
		h.dispatch(now)
		dispatched++
	}
	return dispatched
}

func (reg *descriptorRegistry) checkTimedOutEvents(now clock.Time) int {
	fired := 0
	for i, n := 0, len(reg.order); i < n; i++ {
		e := reg.order[i]
		if e.state != entryObserved || e.h.state != Enabled {
			continue
		}
		if e.h.checkTimeout(now) {
			fired++
		}
	}
	return fired
}

func (reg *descriptorRegistry) getNextTimeout(now clock.Time) time.Duration {
	next := clock.Forever
	for _, e := range reg.order {
		if e.state != entryObserved || e.h.state != Enabled {
			continue
		}
		next = min(next, e.h.Timeout(now))
	}
	return next
}

// finishTick lets the backend shrink and drops entries that left the live set.
func (reg *descriptorRegistry) finishTick() {
	reg.mux.Compact()

	if len(reg.order) <= 2*len(reg.live)+16 {
		return
	}
	kept := reg.order[:0]
	for _, e := range reg.order {
		if e.state == entryEnabled || e.state == entryObserved {
			kept = append(kept, e)
		}
	}
	clear(reg.order[len(kept):])
	reg.order = kept
}

func (reg *descriptorRegistry) disableAll() {
	for _, e := range reg.order {
		if e.state == entryEnabled || e.state == entryObserved {
			e.h.Disable()
		}
	}
}

func (reg *descriptorRegistry) idle() bool {
	return len(reg.live) == 0 && len(reg.retiring) == 0
}

// size counts live handles, leaving out those waiting for their reap.
func (reg *descriptorRegistry) size() int {
	return len(reg.live) - len(reg.retiring)
}
