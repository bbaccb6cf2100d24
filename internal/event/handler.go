package event

import (
	"strings"
	"time"
)

// Events is a readiness interest or result mask.
type Events uint32

const (
	// EventRead indicates the fd is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the fd is ready for writing.
	EventWrite
	// EventError is only ever reported, never requested.
	EventError
	// EventHangup is only ever reported, never requested.
	EventHangup
)

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if e&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

const (
	// NoFD marks a timer-only handler. It is tracked by the registry but never
	// added to the poller.
	NoFD = -1

	// NoTimeout means the handler only fires on fd readiness.
	NoTimeout time.Duration = -1
)

// Handler is a registered event source. The zero value is not usable: FD 0 is a
// valid descriptor and a zero Timeout fires immediately, so build handlers with
// NewHandler or NewTimer.
type Handler[C any] struct {
	FD      int
	Events  Events
	Timeout time.Duration
	OnEvent func(ctx C)

	ready      Events
	registered bool
}

// NewHandler returns a handler watching fd for events, without a timeout.
func NewHandler[C any](fd int, events Events, onEvent func(ctx C)) *Handler[C] {
	return &Handler[C]{
		FD:      fd,
		Events:  events,
		Timeout: NoTimeout,
		OnEvent: onEvent,
	}
}

// NewTimer returns a timer-only handler firing after timeout whenever it holds
// the nearest timeout of an iteration in which no fd became ready.
func NewTimer[C any](timeout time.Duration, onEvent func(ctx C)) *Handler[C] {
	return &Handler[C]{
		FD:      NoFD,
		Timeout: timeout,
		OnEvent: onEvent,
	}
}

// Ready returns the readiness reported for the current dispatch. It is zero
// when the handler fired on timeout.
func (h *Handler[C]) Ready() Events {
	return h.ready
}

// Registered reports whether h is currently in a reactor's registry.
func (h *Handler[C]) Registered() bool {
	return h.registered
}

func (h *Handler[C]) hasTimeout() bool {
	return h.Timeout >= 0
}

func (h *Handler[C]) polled() bool {
	return h.FD >= 0
}
