// Package reactor runs descriptor readiness and timers from a single goroutine.
//
// Every tick observes newly enabled handles, blocks once in the backend for
// at most the nearest deadline, dispatches expired timers, then ready
// descriptors in read, write, except order, then deferred events, delivers
// inactivity timeouts and finally reaps disabled handles. A Reactor and its
// handles must only be used from the goroutine that ticks it.
package reactor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/Viet-ph/reactor/clock"
	"github.com/Viet-ph/reactor/internal/metrics"
	mul "github.com/Viet-ph/reactor/internal/multiplexer"
	"github.com/Viet-ph/reactor/internal/queue"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const DefaultMaxEvents = 128

type Backend = mul.Backend

type Status int

const (
	StatusOK Status = iota
	// StatusNoObserver means nothing is left to watch: no handles, timers or
	// deferred events.
	StatusNoObserver
	// StatusError means the backend wait failed. Err returns the cause.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoObserver:
		return "no_observer"
	case StatusError:
		return "error"
	}
	return "unknown"
}

type Reactor struct {
	id      uuid.UUID
	clock   clock.Clock
	backend Backend
	arena   arena
	dirs    [mul.NumDirections]*descriptorRegistry
	timers  *timerRegistry
	tasks   *queue.TaskQueue
	log     *zap.Logger
	metrics *metrics.Reactor

	stopping bool
	closed   bool
	released bool
	err      error
}

type options struct {
	backend    Backend
	clock      clock.Clock
	log        *zap.Logger
	registerer prometheus.Registerer
	maxEvents  int
}

type Option func(*options)

// WithBackend replaces the backend picked at build time. The reactor owns it
// and closes it on Close.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers the reactor's collectors on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMaxEvents bounds how many readiness events one backend scan collects.
func WithMaxEvents(n int) Option {
	return func(o *options) { o.maxEvents = n }
}

func New(opts ...Option) (*Reactor, error) {
	o := options{maxEvents: DefaultMaxEvents}
	for _, opt := range opts {
		opt(&o)
	}

	if o.backend == nil {
		backend, err := mul.New(o.maxEvents)
		if err != nil {
			return nil, fmt.Errorf("creating backend: %w", err)
		}
		o.backend = backend
	}
	if o.clock == nil {
		o.clock = clock.NewSystem()
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	id := uuid.New()
	r := &Reactor{
		id:      id,
		clock:   o.clock,
		backend: o.backend,
		log: o.log.With(
			zap.String("reactor_id", id.String()),
			zap.String("backend", o.backend.Name()),
		),
		metrics: metrics.New(o.registerer, id.String(), o.backend.Name()),
	}
	for dir := range r.dirs {
		r.dirs[dir] = newDescriptorRegistry(r, Direction(dir), o.backend.Mux(Direction(dir)))
	}
	r.timers = newTimerRegistry(r)
	r.tasks = queue.NewTaskQueue(r.log)

	r.log.Debug("reactor created", zap.Int("limit", o.backend.Limit()))
	return r, nil
}

func (r *Reactor) ID() uuid.UUID       { return r.id }
func (r *Reactor) Now() clock.Time     { return r.clock.Now() }
func (r *Reactor) Logger() *zap.Logger { return r.log }
func (r *Reactor) Stopping() bool      { return r.stopping }

// Err is the error behind the last StatusError.
func (r *Reactor) Err() error { return r.err }

// Limit is the most descriptors the backend can watch, 0 when unbounded.
func (r *Reactor) Limit() int { return r.backend.Limit() }

// Watch creates a Disabled handle for dir. A non-positive timeout means the
// handle never times out.
func (r *Reactor) Watch(dir Direction, timeout time.Duration, cb Callbacks) *Handle {
	if dir < 0 || dir >= mul.NumDirections {
		panic(fmt.Sprintf("reactor: watch on unknown direction %d", dir))
	}
	if timeout <= 0 {
		timeout = TimeoutNever
	}
	return &Handle{
		registry: r.dirs[dir],
		cb:       cb,
		fd:       -1,
		original: timeout,
		budget:   timeout,
	}
}

// AfterFunc arms a one-shot timer that fires fn once delay has passed.
func (r *Reactor) AfterFunc(delay time.Duration, fn TimerFunc, arg any) *Timer {
	t := &Timer{
		registry: r.timers,
		expiry:   r.clock.Now().Add(max(delay, 0)),
		fn:       fn,
		arg:      arg,
	}
	r.timers.add(t)
	return t
}

// Every arms a repeating timer. The first fire is one period from now.
func (r *Reactor) Every(period time.Duration, fn TimerFunc, arg any) *Timer {
	period = max(period, time.Nanosecond)
	t := &Timer{
		registry: r.timers,
		expiry:   r.clock.Now().Add(period),
		period:   period,
		fn:       fn,
		arg:      arg,
	}
	r.timers.add(t)
	return t
}

// Post defers fn to the deferred stage of the current tick, or of the next one
// when called outside dispatch. Returning ErrRequeueTask runs it
// again on the following tick.
func (r *Reactor) Post(fn func(now clock.Time, arg any) error, arg any) {
	r.tasks.Add(queue.NewTask(fn, arg))
}

// Trigger dispatches h from the deferred stage as if it had become ready.
// Nothing happens if h is no longer enabled by then.
func (r *Reactor) Trigger(h *Handle) {
	r.Post(func(now clock.Time, _ any) error {
		if h.state == Enabled && h.entry != nil {
			h.dispatch(now)
		}
		return nil
	}, nil)
}

// Tick runs one iteration, blocking in the backend for at most budget.
func (r *Reactor) Tick(budget time.Duration) Status {
	if r.released {
		r.err = ErrBackendClosed
		return StatusError
	}
	if r.stopping {
		r.stopAll()
		budget = 0
	}

	for _, reg := range r.dirs {
		reg.observeEnabledEvents()
	}

	now := r.clock.Now()
	timeout := budget
	for _, reg := range r.dirs {
		timeout = clock.Min(timeout, reg.getNextTimeout(now))
	}
	timeout = clock.Min(timeout, r.timers.getNextTimeout(now))
	if r.tasks.Len() > 0 || r.reaping() {
		timeout = 0
	}
	timeout = max(timeout, 0)

	if r.idle() {
		r.metrics.Tick(StatusNoObserver.String())
		return StatusNoObserver
	}

	n, err := r.backend.Wait(timeout)
	r.metrics.Waited(r.clock.Now().Sub(now))
	if err != nil {
		if !errors.Is(err, syscall.EINTR) {
			r.err = err
			r.log.Error("backend wait failed", zap.Duration("timeout", timeout), zap.Error(err))
			r.metrics.Tick(StatusError.String())
			return StatusError
		}
		n = 0
	}

	now = r.clock.Now()
	r.metrics.Dispatch("timer", r.timers.dispatchActiveEvents(now))
	if n > 0 {
		for _, reg := range r.dirs {
			r.metrics.Dispatch(reg.dir.String(), reg.dispatchActiveEvents(now))
		}
	}
	r.metrics.Dispatch("deferred", r.tasks.DrainQueue(now))

	for _, reg := range r.dirs {
		r.metrics.Timeout(reg.dir.String(), reg.checkTimedOutEvents(now))
	}

	for _, reg := range r.dirs {
		reg.unobserveDisabledEvents(now)
		reg.finishTick()
		r.metrics.Handles(reg.dir.String(), reg.size())
	}
	r.metrics.Timers(r.timers.size())
	r.metrics.Tick(StatusOK.String())
	return StatusOK
}

// Run ticks until nothing is left to observe or the backend fails. ceiling
// bounds every wait, clock.Forever leaves it to the registered deadlines.
func (r *Reactor) Run(ceiling time.Duration) (Status, error) {
	r.log.Info("reactor running", zap.Duration("ceiling", ceiling))
	for {
		switch status := r.Tick(ceiling); status {
		case StatusNoObserver:
			r.log.Info("reactor drained")
			return status, nil
		case StatusError:
			return status, r.err
		}
	}
}

// Stop disables every handle and cancels every timer. The following ticks do
// not block and Run returns once every teardown callback has run.
func (r *Reactor) Stop() {
	if r.stopping {
		return
	}
	r.stopping = true
	r.log.Info("reactor stopping")
	r.stopAll()
}

func (r *Reactor) stopAll() {
	for _, reg := range r.dirs {
		reg.disableAll()
	}
	r.timers.cancelAll()
}

// Close stops the reactor, drains it and releases the backend.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	r.Stop()
	for {
		status := r.Tick(0)
		if status == StatusNoObserver {
			break
		}
		if status == StatusError {
			r.log.Warn("drain aborted", zap.Error(r.err))
			break
		}
	}
	r.released = true
	return r.backend.Close()
}

func (r *Reactor) reaping() bool {
	for _, reg := range r.dirs {
		if len(reg.retiring) > 0 {
			return true
		}
	}
	return false
}

func (r *Reactor) idle() bool {
	for _, reg := range r.dirs {
		if !reg.idle() {
			return false
		}
	}
	return r.timers.idle() && r.tasks.Len() == 0
}
