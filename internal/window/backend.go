package window

import (
	"github.com/bryanchriswhite/wlmirror/internal/output"
)

// Surface is the display-side surface the window configures. The window calls
// Commit exactly once per state commit, after listeners were notified.
type Surface interface {
	// Version returns the protocol version the surface was created with.
	// Version 6 and later deliver preferred buffer scale events.
	Version() uint32

	// SetViewportDestination sets the logical size the buffer is scaled to.
	SetViewportDestination(width, height int)

	// Commit hands the pending surface state to the compositor.
	Commit()
}

// Frame is the decorated toplevel wrapping the surface.
type Frame interface {
	SetAppID(appID string)
	SetTitle(title string)

	// Map shows the frame. The compositor answers with a configure.
	Map()

	MinContentSize() (width, height int)
	SetMinContentSize(width, height int)
}

// OutputSync reports whether the initial output enumeration has completed.
// *output.Registry satisfies it.
type OutputSync interface {
	InitDone() bool
}

var _ OutputSync = (*output.Registry)(nil)

// Collaborators are the external objects a window is initialized with.
type Collaborators struct {
	Outputs OutputSync
	Surface Surface
	Frame   Frame

	// FractionalScale reports that a fractional scale source is present. When
	// set, only fractional proposals change the scale.
	FractionalScale bool
}

// Configuration is a configure proposal from the compositor.
type Configuration struct {
	// Width and Height are the proposed content size; zero means the
	// compositor left the size to the client.
	Width  int
	Height int

	Fullscreen bool
}

// Listener is notified about commits. Exactly one of the two methods is called
// per commit.
type Listener interface {
	// WindowInitDone is called for the first commit.
	WindowInitDone(w *Window)

	// WindowChanged is called for every later commit with the changed bits
	// accumulated since the previous one.
	WindowChanged(w *Window, changed Changed)
}
