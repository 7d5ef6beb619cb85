package reactor

import mul "github.com/Viet-ph/reactor/internal/multiplexer"

// arena owns the slots that backends refer to by mul.Ref. Freeing a slot
// bumps its generation so a readiness report that raced the free resolves
// to nothing.
type arena struct {
	slots []arenaSlot
	free  []uint32
}

type arenaSlot struct {
	handle *Handle
	gen    uint32
}

func (a *arena) alloc(h *Handle) mul.Ref {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{gen: 1})
	}
	a.slots[index].handle = h
	return mul.Ref{Index: index, Gen: a.slots[index].gen}
}

func (a *arena) get(ref mul.Ref) *Handle {
	if int(ref.Index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[ref.Index]
	if slot.gen != ref.Gen {
		return nil
	}
	return slot.handle
}

func (a *arena) release(ref mul.Ref) {
	if a.get(ref) == nil {
		return
	}
	slot := &a.slots[ref.Index]
	slot.handle = nil
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	a.free = append(a.free, ref.Index)
}

func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
