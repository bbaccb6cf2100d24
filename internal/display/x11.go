package display

import (
	"fmt"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/transform"
	"github.com/bryanchriswhite/wlmirror/internal/window"
)

// pMinSize is the WM_NORMAL_HINTS flag marking the minimum size as set.
const pMinSize = 1 << 4

// sizeHintsLen is the number of 32-bit fields in WM_NORMAL_HINTS.
const sizeHintsLen = 18

type x11Atoms struct {
	wmProtocols     xproto.Atom
	wmDeleteWindow  xproto.Atom
	netWMPing       xproto.Atom
	netWMName       xproto.Atom
	utf8String      xproto.Atom
	netWMState      xproto.Atom
	netWMFullscreen xproto.Atom
}

// X11 is the display backend for X servers. The created window doubles as
// the window.Surface and window.Frame; RandR supplies the outputs.
type X11 struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window
	atoms  x11Atoms
	log    *zerolog.Logger

	// reactor thread only
	viewportWidth  int
	viewportHeight int
	minWidth       int
	minHeight      int
	err            error

	// pump goroutine only
	geom       rect
	fullscreen bool

	closed atomic.Bool
}

var (
	_ window.Surface = (*X11)(nil)
	_ window.Frame   = (*X11)(nil)
)

// ConnectX11 connects to the X server named by $DISPLAY and initializes RandR
func ConnectX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize RandR: %w", err)
	}

	x := &X11{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
		log:    logger.WithComponent("display"),
	}

	if err := x.internAtoms(); err != nil {
		conn.Close()
		return nil, err
	}

	x.log.Info().
		Uint32("root", uint32(x.screen.Root)).
		Msg("Connected to X server")
	return x, nil
}

func (x *X11) internAtoms() error {
	names := []struct {
		name string
		atom *xproto.Atom
	}{
		{"WM_PROTOCOLS", &x.atoms.wmProtocols},
		{"WM_DELETE_WINDOW", &x.atoms.wmDeleteWindow},
		{"_NET_WM_PING", &x.atoms.netWMPing},
		{"_NET_WM_NAME", &x.atoms.netWMName},
		{"UTF8_STRING", &x.atoms.utf8String},
		{"_NET_WM_STATE", &x.atoms.netWMState},
		{"_NET_WM_STATE_FULLSCREEN", &x.atoms.netWMFullscreen},
	}
	for _, n := range names {
		atom, err := x.getAtom(n.name)
		if err != nil {
			return fmt.Errorf("failed to intern atom %s: %w", n.name, err)
		}
		*n.atom = atom
	}
	return nil
}

// CreateWindow creates the unmapped toplevel and subscribes to structure,
// property and RandR notifications. The window is shown by Map.
func (x *X11) CreateWindow(width, height int) error {
	windowID, err := xproto.NewWindowId(x.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	x.win = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify | xproto.EventMaskPropertyChange,
	}

	err = xproto.CreateWindowChecked(
		x.conn,
		x.screen.RootDepth,
		x.win,
		x.screen.Root,
		0, 0,
		uint16(width), uint16(height),
		0,
		xproto.WindowClassInputOutput,
		x.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	protocols := make([]byte, 8)
	xgb.Put32(protocols, uint32(x.atoms.wmDeleteWindow))
	xgb.Put32(protocols[4:], uint32(x.atoms.netWMPing))
	if err := xproto.ChangePropertyChecked(
		x.conn, xproto.PropModeReplace, x.win,
		x.atoms.wmProtocols, xproto.AtomAtom, 32, 2, protocols,
	).Check(); err != nil {
		return fmt.Errorf("failed to set WM_PROTOCOLS: %w", err)
	}

	mask16 := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(x.conn, x.screen.Root, mask16).Check(); err != nil {
		return fmt.Errorf("failed to select RandR input: %w", err)
	}

	x.geom = rect{Width: int32(width), Height: int32(height)}
	x.log.Debug().
		Uint32("window_id", uint32(x.win)).
		Int("width", width).
		Int("height", height).
		Msg("Window created")
	return nil
}

// Err returns the error that ended the event pump, if any. Reactor thread only.
func (x *X11) Err() error {
	return x.err
}

// Outputs enumerates the connected RandR outputs driving a CRTC
func (x *X11) Outputs() ([]output.Entry, error) {
	res, err := randr.GetScreenResourcesCurrent(x.conn, x.screen.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	entries := make([]output.Entry, 0, len(res.Outputs))
	for _, id := range res.Outputs {
		info, err := randr.GetOutputInfo(x.conn, id, res.ConfigTimestamp).Reply()
		if err != nil {
			x.log.Debug().Err(err).Uint32("output", uint32(id)).Msg("Failed to get output info")
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}

		crtc, err := randr.GetCrtcInfo(x.conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			x.log.Debug().Err(err).Uint32("crtc", uint32(info.Crtc)).Msg("Failed to get CRTC info")
			continue
		}

		entries = append(entries, output.Entry{
			ID:        uint32(id),
			Name:      string(info.Name),
			Scale:     1,
			Transform: rotationTransform(crtc.Rotation),
			Geometry: output.Geometry{
				X:      int32(crtc.X),
				Y:      int32(crtc.Y),
				Width:  int32(crtc.Width),
				Height: int32(crtc.Height),
			},
		})
	}
	return entries, nil
}

// Start runs the event pump. Notifications are posted to the reactor thread
// where they drive sink and outputs. The pump ends when the connection closes.
func (x *X11) Start(post Poster, sink WindowSink, outputs *output.Registry, fractional FractionalSource) {
	go x.pump(post, sink, outputs, fractional)
}

func (x *X11) pump(post Poster, sink WindowSink, outputs *output.Registry, fractional FractionalSource) {
	x.log.Debug().Msg("Event pump started")
	defer x.log.Debug().Msg("Event pump stopped")

	for {
		ev, xerr := x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			if x.closed.Load() {
				return
			}
			x.log.Error().Msg("X server connection closed")
			x.post(post, func() { x.err = ErrDisconnected })
			return
		}
		if xerr != nil {
			x.log.Warn().Str("error", xerr.Error()).Msg("X protocol error")
			continue
		}

		switch ev := ev.(type) {
		case xproto.ConfigureNotifyEvent:
			if ev.Window != x.win {
				continue
			}
			x.geom = x.rootGeometry(ev)
			geom, fullscreen := x.geom, x.fullscreen
			x.post(post, func() { applyGeometry(sink, outputs, fractional, geom, fullscreen) })

		case xproto.PropertyNotifyEvent:
			if ev.Window != x.win || ev.Atom != x.atoms.netWMState {
				continue
			}
			fullscreen := x.readFullscreen()
			if fullscreen == x.fullscreen {
				continue
			}
			x.fullscreen = fullscreen
			geom := x.geom
			x.post(post, func() {
				sink.Configure(window.Configuration{
					Width:      int(geom.Width),
					Height:     int(geom.Height),
					Fullscreen: fullscreen,
				})
			})

		case xproto.ClientMessageEvent:
			if ev.Window != x.win || ev.Type != x.atoms.wmProtocols || ev.Format != 32 {
				continue
			}
			switch xproto.Atom(ev.Data.Data32[0]) {
			case x.atoms.wmDeleteWindow:
				x.log.Info().Msg("Close requested by window manager")
				x.post(post, sink.RequestClose)
			case x.atoms.netWMPing:
				x.pong(ev)
			}

		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			entries, err := x.Outputs()
			if err != nil {
				x.log.Warn().Err(err).Msg("Failed to re-enumerate outputs")
				continue
			}
			x.post(post, func() {
				if err := outputs.Sync(entries); err != nil {
					x.log.Warn().Err(err).Msg("Failed to sync outputs")
				}
			})
		}
	}
}

func (x *X11) post(post Poster, fn func()) {
	if x.closed.Load() {
		return
	}
	if err := post(fn); err != nil {
		x.log.Debug().Err(err).Msg("Failed to post event")
	}
}

// rootGeometry translates the window origin to root coordinates. Reparenting
// window managers report configure positions relative to their frame.
func (x *X11) rootGeometry(ev xproto.ConfigureNotifyEvent) rect {
	geom := rect{
		X:      int32(ev.X),
		Y:      int32(ev.Y),
		Width:  int32(ev.Width),
		Height: int32(ev.Height),
	}
	reply, err := xproto.TranslateCoordinates(x.conn, x.win, x.screen.Root, 0, 0).Reply()
	if err != nil {
		x.log.Debug().Err(err).Msg("Failed to translate window coordinates")
		return geom
	}
	geom.X, geom.Y = int32(reply.DstX), int32(reply.DstY)
	return geom
}

func (x *X11) readFullscreen() bool {
	reply, err := xproto.GetProperty(x.conn, false, x.win, x.atoms.netWMState, xproto.AtomAtom, 0, 64).Reply()
	if err != nil {
		x.log.Debug().Err(err).Msg("Failed to read _NET_WM_STATE")
		return x.fullscreen
	}
	return hasAtom(reply.Value, x.atoms.netWMFullscreen)
}

func (x *X11) pong(ev xproto.ClientMessageEvent) {
	ev.Window = x.screen.Root
	mask := uint32(xproto.EventMaskSubstructureNotify | xproto.EventMaskSubstructureRedirect)
	xproto.SendEvent(x.conn, false, x.screen.Root, mask, string(ev.Bytes()))
}

// Version implements window.Surface. X11 windows never receive preferred
// buffer scale events.
func (x *X11) Version() uint32 {
	return 1
}

// SetViewportDestination implements window.Surface
func (x *X11) SetViewportDestination(width, height int) {
	x.viewportWidth, x.viewportHeight = width, height
}

// Commit implements window.Surface by repainting the window background
func (x *X11) Commit() {
	xproto.ClearArea(x.conn, true, x.win, 0, 0, 0, 0)
	x.log.Trace().
		Int("viewport_width", x.viewportWidth).
		Int("viewport_height", x.viewportHeight).
		Msg("Surface committed")
}

// SetAppID implements window.Frame by setting WM_CLASS
func (x *X11) SetAppID(appID string) {
	if err := x.setWindowClass(appID, appID); err != nil {
		x.log.Warn().Err(err).Msg("Failed to set window class")
	}
}

// SetTitle implements window.Frame
func (x *X11) SetTitle(title string) {
	if err := x.setWindowTitle(title); err != nil {
		x.log.Warn().Err(err).Msg("Failed to set window title")
	}
}

// Map implements window.Frame. The window manager answers with a
// ConfigureNotify.
func (x *X11) Map() {
	xproto.MapWindow(x.conn, x.win)
	x.log.Debug().Uint32("window_id", uint32(x.win)).Msg("Window mapped")
}

// MinContentSize implements window.Frame
func (x *X11) MinContentSize() (int, int) {
	return x.minWidth, x.minHeight
}

// SetMinContentSize implements window.Frame by setting WM_NORMAL_HINTS
func (x *X11) SetMinContentSize(width, height int) {
	x.minWidth, x.minHeight = width, height
	hints := encodeMinSizeHints(width, height)
	xproto.ChangeProperty(x.conn, xproto.PropModeReplace, x.win,
		xproto.AtomWmNormalHints, xproto.AtomWmSizeHints, 32, sizeHintsLen, hints)
}

// Close destroys the window and closes the connection, ending the pump
func (x *X11) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	if x.win != 0 {
		xproto.DestroyWindow(x.conn, x.win)
		x.conn.Sync()
	}
	x.conn.Close()
	x.log.Info().Msg("Disconnected from X server")
	return nil
}

// setWindowTitle sets WM_NAME and _NET_WM_NAME
func (x *X11) setWindowTitle(title string) error {
	if err := xproto.ChangePropertyChecked(
		x.conn,
		xproto.PropModeReplace,
		x.win,
		xproto.AtomWmName,
		xproto.AtomString,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check(); err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		x.conn,
		xproto.PropModeReplace,
		x.win,
		x.atoms.netWMName,
		x.atoms.utf8String,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets the window class
func (x *X11) setWindowClass(instance, class string) error {
	classStr := wmClass(instance, class)
	return xproto.ChangePropertyChecked(
		x.conn,
		xproto.PropModeReplace,
		x.win,
		xproto.AtomWmClass,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// getAtom gets an atom ID by name
func (x *X11) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// wmClass encodes WM_CLASS: instance\0class\0
func wmClass(instance, class string) string {
	return instance + "\x00" + class + "\x00"
}

func encodeMinSizeHints(width, height int) []byte {
	buf := make([]byte, sizeHintsLen*4)
	xgb.Put32(buf, pMinSize)
	xgb.Put32(buf[5*4:], uint32(width))
	xgb.Put32(buf[6*4:], uint32(height))
	return buf
}

func hasAtom(value []byte, atom xproto.Atom) bool {
	for i := 0; i+4 <= len(value); i += 4 {
		if xproto.Atom(xgb.Get32(value[i:])) == atom {
			return true
		}
	}
	return false
}

// rotationTransform maps a RandR CRTC rotation to an output transform. A
// Y reflection is an X reflection rotated by 180 degrees; both reflections
// cancel out into a plain 180 degree rotation.
func rotationTransform(rotation uint16) transform.Transform {
	var base transform.Transform
	switch {
	case rotation&randr.RotationRotate90 != 0:
		base = 1
	case rotation&randr.RotationRotate180 != 0:
		base = 2
	case rotation&randr.RotationRotate270 != 0:
		base = 3
	}

	reflectX := rotation&randr.RotationReflectX != 0
	reflectY := rotation&randr.RotationReflectY != 0
	if reflectY {
		base += 2
	}
	base %= 4

	if reflectX != reflectY {
		return transform.Flipped + base
	}
	return transform.Normal + base
}
