package reactor

import (
	"time"

	"github.com/Viet-ph/reactor/clock"
	mul "github.com/Viet-ph/reactor/internal/multiplexer"
)

type Direction = mul.Direction

const (
	Read   = mul.Read
	Write  = mul.Write
	Except = mul.Except
)

type State uint8

const (
	Disabled State = iota
	Enabled
	Suspended
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Suspended:
		return "suspended"
	}
	return "unknown"
}

const (
	// TimeoutDefault passed to SetTimeout restores the budget the handle was created with.
	TimeoutDefault time.Duration = -1
	// TimeoutNever disables the inactivity timeout.
	TimeoutNever = clock.Forever
)

// Callbacks are invoked from the reactor's tick, never concurrently.
type Callbacks struct {
	// OnReady runs when the descriptor is ready in the handle's direction.
	OnReady func(h *Handle, now clock.Time)
	// OnTimeout runs when the handle saw no activity for its budget. The
	// handle stays enabled unless the callback disables it.
	OnTimeout func(h *Handle, now clock.Time)
	// OnClose runs exactly once after a disabled handle has been removed from
	// the backend. err is set when the backend refused the registration.
	OnClose func(h *Handle, err error)
}

// Handle is a registered interest in one descriptor for one direction.
type Handle struct {
	registry *descriptorRegistry
	entry    *entry
	ref      mul.Ref
	cb       Callbacks

	fd       int
	state    State
	observed bool

	original      time.Duration
	budget        time.Duration
	lastTriggered clock.Time
	dispatches    uint64
}

func (h *Handle) Fd() int                   { return h.fd }
func (h *Handle) Direction() Direction      { return h.registry.dir }
func (h *Handle) State() State              { return h.state }
func (h *Handle) Observed() bool            { return h.observed }
func (h *Handle) Dispatches() uint64        { return h.dispatches }
func (h *Handle) LastTriggered() clock.Time { return h.lastTriggered }
func (h *Handle) Budget() time.Duration     { return h.budget }

func (h *Handle) stamp() {
	h.lastTriggered = h.registry.reactor.clock.Now()
}

// Enable starts watching fd. It reports false, and changes nothing, if the
// handle is not Disabled, is still waiting for its OnClose, if fd is
// negative, or if this direction already has a live handle on fd.
func (h *Handle) Enable(fd int) bool {
	if h.state != Disabled || h.entry != nil || fd < 0 {
		return false
	}
	if !h.registry.enable(h, fd) {
		return false
	}
	h.fd = fd
	h.state = Enabled
	h.stamp()
	return true
}

// Disable stops watching. OnClose follows once the backend has forgotten the
// descriptor. Disabling a disabled handle does nothing.
func (h *Handle) Disable() {
	if h.state == Disabled {
		return
	}
	if h.state != Suspended {
		h.Suspend()
	}
	h.registry.disable(h)
	h.state = Disabled
}

// Suspend hides the handle from readiness checks without dropping its registration.
func (h *Handle) Suspend() {
	if h.state != Enabled {
		return
	}
	h.state = Suspended
	h.registry.toggle(h)
}

func (h *Handle) Resume() {
	if h.state != Suspended {
		return
	}
	h.state = Enabled
	h.stamp()
	h.registry.toggle(h)
}

// SetTimeout replaces the inactivity budget and restarts the inactivity clock.
// TimeoutDefault restores the creation budget; any other non-positive budget
// behaves like TimeoutNever.
func (h *Handle) SetTimeout(budget time.Duration) {
	switch {
	case budget == TimeoutDefault:
		budget = h.original
	case budget <= 0:
		budget = TimeoutNever
	}
	h.budget = budget
	h.stamp()
}

// Timeout is the budget left at now. It goes negative once the budget is
// spent and is clock.Forever when the timeout is disabled.
func (h *Handle) Timeout(now clock.Time) time.Duration {
	if h.budget == TimeoutNever {
		return clock.Forever
	}
	return h.budget - now.Sub(h.lastTriggered)
}

func (h *Handle) dispatch(now clock.Time) {
	h.dispatches++
	h.lastTriggered = now
	if h.cb.OnReady != nil {
		h.cb.OnReady(h, now)
	}
}

// checkTimeout fires OnTimeout once per elapsed budget.
func (h *Handle) checkTimeout(now clock.Time) bool {
	if h.budget == TimeoutNever || now.Sub(h.lastTriggered) < h.budget {
		return false
	}
	h.lastTriggered = now
	if h.cb.OnTimeout != nil {
		h.cb.OnTimeout(h, now)
	}
	return true
}
