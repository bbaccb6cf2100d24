//go:build !linux

package event

type wakeFD struct{}

func newWakeFD() (*wakeFD, error) {
	return nil, ErrNotSupported
}

func (w *wakeFD) readFD() int { return NoFD }
func (w *wakeFD) signal() error { return ErrNotSupported }
func (w *wakeFD) reset() {}
func (w *wakeFD) close() error { return nil }
