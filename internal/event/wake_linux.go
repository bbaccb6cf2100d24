//go:build linux

package event

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// wakeFD is a non-blocking eventfd used as a level-triggered doorbell.
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeFD{fd: fd}, nil
}

func (w *wakeFD) readFD() int {
	return w.fd
}

func (w *wakeFD) signal() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated; the reader is already due to wake
		return nil
	}
	return err
}

func (w *wakeFD) reset() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *wakeFD) close() error {
	if w.fd < 0 {
		return nil
	}
	err := unix.Close(w.fd)
	w.fd = -1
	return err
}
