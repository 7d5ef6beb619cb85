package multiplexer

import "time"

// Direction selects which readiness condition a Mux watches.
type Direction int

const (
	Read Direction = iota
	Write
	Except

	NumDirections = 3
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	case Except:
		return "except"
	}
	return "unknown"
}

// Ref names a registered interest without holding a pointer to it. The owner
// bumps Gen when the slot is reused, so a stale readiness report can be told
// apart from a live one.
type Ref struct {
	Index uint32
	Gen   uint32
}

// Mux holds the kernel interest for one direction.
//
// Add on a descriptor that is already present updates it in place. Del on a
// descriptor the kernel no longer knows (closed, never added) succeeds.
type Mux interface {
	Add(fd int, ref Ref) error
	Del(fd int) error
	On(fd int) error
	Off(fd int) error
	// Scan reports every ready descriptor from the last Wait, at most once each.
	Scan(fn func(ref Ref))
	// Compact lets the mux shrink storage that has become oversized.
	Compact()
}

// Backend issues the single blocking wait of a reactor tick.
type Backend interface {
	Name() string
	Mux(dir Direction) Mux
	// Wait blocks for at most timeout (clock.Forever blocks indefinitely) and
	// returns the number of ready notifications. EINTR is returned unwrapped.
	Wait(timeout time.Duration) (int, error)
	// Limit is the highest descriptor count the backend can watch, 0 if unbounded.
	Limit() int
	Close() error
}
