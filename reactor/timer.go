package reactor

import (
	"cmp"
	"slices"
	"time"

	"github.com/Viet-ph/reactor/clock"
)

// TimerFunc is called with the timer that fired, the tick time and the
// argument the timer was armed with.
type TimerFunc func(t *Timer, now clock.Time, arg any)

// Timer is an armed one-shot or repeating expiry.
type Timer struct {
	registry *timerRegistry
	expiry   clock.Time
	period   time.Duration
	fn       TimerFunc
	arg      any
	onClose  func(t *Timer)
	fires    uint64

	removing bool
	closed   bool
}

// Cancel disarms the timer. It is safe from inside the timer's own callback;
// the registry forgets it at the next flush and then calls OnClose.
func (t *Timer) Cancel() {
	t.registry.remove(t)
}

// OnClose sets the teardown callback, run exactly once after the timer has
// been removed, whether it was canceled or was a one-shot that fired.
func (t *Timer) OnClose(fn func(t *Timer)) *Timer {
	t.onClose = fn
	return t
}

func (t *Timer) Expiry() clock.Time    { return t.expiry }
func (t *Timer) Period() time.Duration { return t.period }
func (t *Timer) Fires() uint64         { return t.fires }
func (t *Timer) Repeating() bool       { return t.period > 0 }

// Armed reports whether the timer can still fire.
func (t *Timer) Armed() bool { return !t.removing }

func (t *Timer) fire(now clock.Time) {
	t.fires++
	t.fn(t, now, t.arg)

	if t.period == 0 {
		t.Cancel()
		return
	}
	if t.removing {
		return
	}
	next := t.expiry.Add(t.period)
	if !next.After(now) {
		// Fell a whole period behind, skip the missed fires.
		next = now.Add(t.period)
	}
	t.expiry = next
	t.registry.dirty = true
}

// timerRegistry keeps the armed timers sorted by expiry. Structural changes
// are buffered in added and removed and applied by flush.
type timerRegistry struct {
	reactor *Reactor
	list    []*Timer
	added   []*Timer
	removed []*Timer
	dirty   bool
}

func newTimerRegistry(r *Reactor) *timerRegistry {
	return &timerRegistry{reactor: r}
}

func (reg *timerRegistry) add(t *Timer) {
	if t.removing {
		return
	}
	reg.added = append(reg.added, t)
}

func (reg *timerRegistry) remove(t *Timer) {
	if t.removing {
		return
	}
	t.removing = true
	reg.removed = append(reg.removed, t)
}

func (reg *timerRegistry) flush() {
	if len(reg.added) > 0 {
		for _, t := range reg.added {
			if t.removing {
				continue
			}
			reg.list = append(reg.list, t)
		}
		clear(reg.added)
		reg.added = reg.added[:0]
		reg.dirty = true
	}

	if len(reg.removed) > 0 {
		// Teardown callbacks may cancel or arm timers; those land in the
		// buffers and are handled on the next flush.
		removed := reg.removed
		reg.removed = nil

		for _, t := range removed {
			t.closed = true
		}
		reg.list = slices.DeleteFunc(reg.list, func(t *Timer) bool { return t.closed })
		reg.dirty = true

		for _, t := range removed {
			reg.reactor.metrics.Teardown("timer")
			if t.onClose != nil {
				t.onClose(t)
			}
		}
	}

	if reg.dirty {
		slices.SortStableFunc(reg.list, func(a, b *Timer) int {
			return cmp.Compare(a.expiry, b.expiry)
		})
		reg.dirty = false
	}
}

func (reg *timerRegistry) getNextTimeout(now clock.Time) time.Duration {
	reg.flush()
	if len(reg.added) > 0 || len(reg.removed) > 0 {
		// A teardown callback changed the registry during the flush.
		return 0
	}
	if len(reg.list) == 0 {
		return clock.Forever
	}
	return max(reg.list[0].expiry.Sub(now), 0)
}

func (reg *timerRegistry) dispatchActiveEvents(now clock.Time) int {
	reg.flush()

	// The walk never reorders the list. Rearmed timers move in the next sort.
	fired := 0
	for _, t := range reg.list {
		if t.expiry.After(now) {
			break
		}
		if t.removing {
			continue
		}
		t.fire(now)
		fired++
	}
	return fired
}

func (reg *timerRegistry) cancelAll() {
	for _, t := range reg.list {
		t.Cancel()
	}
	for _, t := range reg.added {
		t.Cancel()
	}
}

func (reg *timerRegistry) idle() bool {
	return len(reg.list) == 0 && len(reg.added) == 0 && len(reg.removed) == 0
}

func (reg *timerRegistry) size() int {
	return len(reg.list)
}
