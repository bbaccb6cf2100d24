//go:build !linux

package event

func newPoller() (poller, error) {
	return nil, &PollCreateError{Err: ErrNotSupported}
}
