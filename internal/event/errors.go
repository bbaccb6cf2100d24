package event

import (
	"errors"
	"fmt"
)

var (
	ErrNilCallback       = errors.New("event: handler has no callback")
	ErrAlreadyRegistered = errors.New("event: handler already registered")
	ErrNotRegistered     = errors.New("event: handler not registered")
	ErrClosed            = errors.New("event: reactor closed")
	ErrNotSupported      = errors.New("event: platform not supported")

	// errInterrupted is returned by pollers when the wait was interrupted by a
	// signal before anything became ready.
	errInterrupted = errors.New("event: wait interrupted")
)

// PollCreateError reports that the multiplexing facility could not be created.
// It is always fatal.
type PollCreateError struct {
	Err error
}

func (e *PollCreateError) Error() string {
	return fmt.Sprintf("event: create poller: %v", e.Err)
}

func (e *PollCreateError) Unwrap() error { return e.Err }

// PollRegistrationError reports a failure to add or modify a polling interest.
// The reactor treats it as fatal: Run returns it on the next iteration.
type PollRegistrationError struct {
	Op  string
	FD  int
	Err error
}

func (e *PollRegistrationError) Error() string {
	return fmt.Sprintf("event: %s fd %d: %v", e.Op, e.FD, e.Err)
}

func (e *PollRegistrationError) Unwrap() error { return e.Err }

// WaitError reports a failure of the blocking wait call other than an
// interruption by a signal.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("event: wait: %v", e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }
