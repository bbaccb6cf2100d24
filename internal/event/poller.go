package event

import "time"

// pollEvent is one readiness notification returned by a poller.
type pollEvent struct {
	fd     int
	events Events
}

// poller is the OS readiness-multiplexing facility owned by a Reactor.
type poller interface {
	add(fd int, events Events) error
	modify(fd int, events Events) error
	remove(fd int) error
	// wait blocks for up to timeout (negative blocks indefinitely) and fills
	// buf. An interrupted wait returns errInterrupted.
	wait(buf []pollEvent, timeout time.Duration) (int, error)
	close() error
}

// timeoutMillis converts an armed timeout to the millisecond argument of the
// wait call, rounding up so a sub-millisecond timeout does not spin.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
