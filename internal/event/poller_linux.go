//go:build linux

package event

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements poller using Linux epoll.
type epollPoller struct {
	epfd int
	raw  []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &PollCreateError{Err: err}
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) add(fd int, events Events) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, events Events) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(buf []pollEvent, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(buf) {
		p.raw = make([]unix.EpollEvent, len(buf))
	}
	raw := p.raw[:len(buf)]

	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, errInterrupted
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		buf[i] = pollEvent{fd: int(raw[i].Fd), events: epollToEvents(raw[i].Events)}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// eventsToEpoll converts an interest mask to epoll flags.
func eventsToEpoll(events Events) uint32 {
	var flags uint32
	if events&EventRead != 0 {
		flags |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		flags |= unix.EPOLLOUT
	}
	return flags
}

// epollToEvents converts epoll flags to a readiness mask.
func epollToEvents(flags uint32) Events {
	var events Events
	if flags&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if flags&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if flags&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if flags&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
