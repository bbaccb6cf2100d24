// Package display connects the window state machine to a display server.
//
// Backends talk to the server from their own goroutines and never touch
// window or output state there: every notification is turned into a closure
// handed to a Poster, which runs it on the reactor thread.
package display

import (
	"errors"
	"math"

	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/window"
)

var (
	ErrDisconnected = errors.New("display: connection closed")
	ErrUnavailable  = errors.New("display: service unavailable")
)

// Poster queues fn to run on the reactor thread.
type Poster func(fn func()) error

// WindowSink is the part of the window state machine a backend drives.
// *window.Window satisfies it.
type WindowSink interface {
	Configure(cfg window.Configuration)
	Enter(entry *output.Entry)
	Leave(entry *output.Entry)
	PreferredFractionalScale(scaleTimes120 uint32)
	SetFractionalScale(available bool)
	RequestClose()
	Output() *output.Entry
}

var _ WindowSink = (*window.Window)(nil)

// FractionalSource supplies fractional scales per output connector name.
type FractionalSource interface {
	// Preferred returns the scale for the named output in 120ths.
	Preferred(name string) (uint32, bool)
}

// ScaleTimes120 converts a scale factor to the 120ths used on the wire.
func ScaleTimes120(scale float64) uint32 {
	if scale <= 0 {
		return 120
	}
	return uint32(math.Round(scale * 120))
}

// rect is a window rectangle in root coordinates.
type rect struct {
	X, Y          int32
	Width, Height int32
}

func (r rect) center() (int32, int32) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// applyGeometry hands a new window geometry to the state machine: the size as
// a configure proposal and the output under the window center as the entered
// output. Outputs the window moved off are left.
func applyGeometry(sink WindowSink, outputs *output.Registry, fractional FractionalSource, geom rect, fullscreen bool) {
	sink.Configure(window.Configuration{
		Width:      int(geom.Width),
		Height:     int(geom.Height),
		Fullscreen: fullscreen,
	})

	entry := outputs.At(geom.center())
	if entry == nil {
		return
	}
	if current := sink.Output(); current != nil && current != entry {
		sink.Leave(current)
	}
	sink.Enter(entry)
	applyFractional(sink, fractional, entry)
}

func applyFractional(sink WindowSink, fractional FractionalSource, entry *output.Entry) {
	if fractional == nil || entry == nil {
		return
	}
	if scale, ok := fractional.Preferred(entry.Name); ok {
		sink.PreferredFractionalScale(scale)
	}
}
