//go:build (linux || darwin) && reactor_poll && !reactor_select

package multiplexer

// New returns the backend this binary was built for.
func New(maxEvents int) (Backend, error) {
	return NewPoll(maxEvents)
}
