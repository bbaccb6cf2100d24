package event

import (
	"errors"
	"time"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/rs/zerolog"
)

// DefaultMaxEvents is the number of readiness events fetched per wait call.
const DefaultMaxEvents = 16

// State is the phase a Reactor is in.
type State int

const (
	StateIdle State = iota
	StateAnnouncing
	StateArming
	StateWaiting
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnnouncing:
		return "announcing"
	case StateArming:
		return "arming"
	case StateWaiting:
		return "waiting"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Reactor multiplexes fd readiness and timeouts for handlers receiving a
// shared application context C.
type Reactor[C any] struct {
	poller     poller
	handlers   map[*Handler[C]]struct{}
	byFD       map[int]*Handler[C]
	beforePoll []func(ctx C)
	events     []pollEvent
	batch      []*Handler[C]
	state      State
	fatal      error
	log        *zerolog.Logger
}

// Options configures a Reactor.
type Options struct {
	// MaxEvents bounds the readiness events handled per wait call.
	MaxEvents int
}

// New creates a Reactor owning a fresh polling facility. A failure is a
// *PollCreateError.
func New[C any](opts Options) (*Reactor[C], error) {
	log := logger.WithComponent("event")
	log.Trace().Msg("Initializing")

	p, err := newPoller()
	if err != nil {
		log.Error().Err(err).Msg("Failed to create poller")
		return nil, err
	}
	return newWithPoller[C](p, opts), nil
}

func newWithPoller[C any](p poller, opts Options) *Reactor[C] {
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Reactor[C]{
		poller:   p,
		handlers: make(map[*Handler[C]]struct{}),
		byFD:     make(map[int]*Handler[C]),
		events:   make([]pollEvent, maxEvents),
		state:    StateIdle,
		log:      logger.WithComponent("event"),
	}
}

// State returns the current loop phase.
func (r *Reactor[C]) State() State {
	return r.state
}

// Err returns the fatal error recorded by a failed registration, if any.
func (r *Reactor[C]) Err() error {
	return r.fatal
}

// Len returns the number of registered handlers.
func (r *Reactor[C]) Len() int {
	return len(r.handlers)
}

// OnBeforePoll adds a hook to the before-poll broadcast. Hooks run in the
// order they were added, once per iteration, before the timeout is armed.
func (r *Reactor[C]) OnBeforePoll(hook func(ctx C)) {
	r.beforePoll = append(r.beforePoll, hook)
}

// Register adds h to the registry and, unless it is timer-only, its fd to the
// poller. Any failure is fatal to the reactor.
func (r *Reactor[C]) Register(h *Handler[C]) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if h.OnEvent == nil {
		return r.fail(&PollRegistrationError{Op: "add", FD: h.FD, Err: ErrNilCallback})
	}
	if h.registered {
		return r.fail(&PollRegistrationError{Op: "add", FD: h.FD, Err: ErrAlreadyRegistered})
	}

	if h.polled() {
		if _, taken := r.byFD[h.FD]; taken {
			return r.fail(&PollRegistrationError{Op: "add", FD: h.FD, Err: ErrAlreadyRegistered})
		}
		if err := r.poller.add(h.FD, h.Events); err != nil {
			return r.fail(&PollRegistrationError{Op: "add", FD: h.FD, Err: err})
		}
		r.byFD[h.FD] = h
	}

	h.registered = true
	r.handlers[h] = struct{}{}

	r.log.Trace().
		Int("fd", h.FD).
		Stringer("events", h.Events).
		Dur("timeout", h.Timeout).
		Msg("Registered handler")
	return nil
}

// Update re-applies the interest mask of an already registered handler. Timeout
// changes need no Update: they are read when the next iteration arms.
func (r *Reactor[C]) Update(h *Handler[C]) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if !h.registered {
		return r.fail(&PollRegistrationError{Op: "modify", FD: h.FD, Err: ErrNotRegistered})
	}
	if !h.polled() {
		return nil
	}
	if err := r.poller.modify(h.FD, h.Events); err != nil {
		return r.fail(&PollRegistrationError{Op: "modify", FD: h.FD, Err: err})
	}
	return nil
}

// Unregister removes h from the poller and the registry. A poller failure is
// logged and otherwise ignored since the owner may already have closed the fd.
func (r *Reactor[C]) Unregister(h *Handler[C]) error {
	if !h.registered {
		return ErrNotRegistered
	}

	if h.polled() && r.poller != nil {
		if err := r.poller.remove(h.FD); err != nil {
			r.log.Error().Err(err).Int("fd", h.FD).Msg("Failed to remove fd from poller")
		}
	}
	if r.byFD[h.FD] == h {
		delete(r.byFD, h.FD)
	}
	delete(r.handlers, h)
	h.registered = false
	h.ready = 0
	return nil
}

// Run loops until closing reports true, a registration failure occurs, or the
// wait call fails with anything other than an interruption. A nil closing
// never stops the loop.
func (r *Reactor[C]) Run(ctx C, closing func(ctx C) bool) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	defer func() {
		if r.state != StateStopped {
			r.state = StateIdle
		}
	}()

	for {
		r.state = StateAnnouncing
		r.announce(ctx)

		if r.fatal != nil {
			return r.fatal
		}
		if closing != nil && closing(ctx) {
			return nil
		}

		r.state = StateArming
		timer, timeout := r.arm()

		r.state = StateWaiting
		n, err := r.poller.wait(r.events, timeout)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				r.log.Debug().Msg("Wait interrupted, retrying")
				continue
			}
			r.log.Error().Err(err).Msg("Wait failed")
			return &WaitError{Err: err}
		}

		r.state = StateDispatching
		if n == 0 {
			if timer != nil && timer.registered {
				timer.ready = 0
				timer.OnEvent(ctx)
			}
		} else {
			r.dispatch(ctx, r.events[:n])
		}

		if r.fatal != nil {
			return r.fatal
		}
	}
}

// Close releases the polling facility. Handlers stay owned by their creators;
// the registry is only forgotten.
func (r *Reactor[C]) Close() error {
	if r.poller == nil {
		return nil
	}
	r.log.Trace().Msg("Cleaning up")

	for h := range r.handlers {
		h.registered = false
	}
	r.handlers = make(map[*Handler[C]]struct{})
	r.byFD = make(map[int]*Handler[C])

	err := r.poller.close()
	r.poller = nil
	r.state = StateStopped
	return err
}

func (r *Reactor[C]) announce(ctx C) {
	for _, hook := range r.beforePoll {
		hook(ctx)
	}
}

// arm returns the handler holding the nearest timeout and that timeout, or
// (nil, NoTimeout) when no registered handler has one.
func (r *Reactor[C]) arm() (*Handler[C], time.Duration) {
	var nearest *Handler[C]
	for h := range r.handlers {
		if !h.hasTimeout() {
			continue
		}
		if nearest == nil || h.Timeout < nearest.Timeout {
			nearest = h
		}
	}
	if nearest == nil {
		return nil, NoTimeout
	}
	return nearest, nearest.Timeout
}

// dispatch resolves every ready fd to its handler before running any
// callback, so readiness never reaches a handler registered mid-batch.
func (r *Reactor[C]) dispatch(ctx C, ready []pollEvent) {
	batch := r.batch[:0]
	for _, ev := range ready {
		batch = append(batch, r.byFD[ev.fd])
	}
	for i, h := range batch {
		batch[i] = nil
		// An earlier callback in this batch may have unregistered the handler.
		if h == nil || !h.registered {
			continue
		}
		h.ready = ready[i].events
		h.OnEvent(ctx)
	}
	r.batch = batch[:0]
}

func (r *Reactor[C]) checkOpen() error {
	if r.poller == nil {
		return ErrClosed
	}
	return nil
}

// fail records the first fatal error; Run returns it on its next check.
func (r *Reactor[C]) fail(err error) error {
	r.log.Error().Err(err).Msg("Fatal poller registration failure")
	if r.fatal == nil {
		r.fatal = err
	}
	return err
}
