package window

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/transform"
)

const (
	DefaultWidth  = 100
	DefaultHeight = 100

	DefaultAppID = "at.yrlf.wl_mirror"
	DefaultTitle = "Wayland Output Mirror"
)

var (
	ErrOutputsNotSynced   = errors.New("window: initial output sync not complete")
	ErrAlreadyInitialized = errors.New("window: already initialized")
)

// Options are the static window properties.
type Options struct {
	AppID     string
	Title     string
	MinWidth  int
	MinHeight int
}

func (o *Options) setDefaults() {
	if o.AppID == "" {
		o.AppID = DefaultAppID
	}
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.MinWidth <= 0 {
		o.MinWidth = DefaultWidth
	}
	if o.MinHeight <= 0 {
		o.MinHeight = DefaultHeight
	}
}

// Window is the authoritative view of the surface configuration. Proposals
// from the compositor mark attributes dirty; BeforePoll folds everything
// pending into a single commit. Not safe for concurrent use: every method is
// meant to run on the reactor thread.
type Window struct {
	opts Options
	log  *zerolog.Logger

	surface    Surface
	frame      Frame
	fractional bool

	flags   Flags
	changed Changed

	width        int
	height       int
	scale        float64
	bufferWidth  int
	bufferHeight int
	transform    transform.Transform
	fullscreen   bool

	// current is a weak reference into the output registry, cleared when the
	// registry reports the entry removed.
	current *output.Entry

	initCalled     bool
	configured     bool
	closeRequested bool

	listeners []Listener
}

var _ output.Observer = (*Window)(nil)

// New returns a window in its zero state.
func New(opts Options) *Window {
	opts.setDefaults()
	w := &Window{
		opts: opts,
		log:  logger.WithComponent("window"),
	}
	w.zero()
	return w
}

func (w *Window) zero() {
	w.surface = nil
	w.frame = nil
	w.fractional = false

	w.flags = 0
	w.changed = 0
	w.width, w.height = 0, 0
	w.scale = 1
	w.bufferWidth, w.bufferHeight = 0, 0
	w.transform = transform.Normal
	w.fullscreen = false
	w.current = nil

	w.initCalled = false
	w.configured = false
	w.closeRequested = false
}

// AddListener registers l for commit notifications.
func (w *Window) AddListener(l Listener) {
	w.listeners = append(w.listeners, l)
}

// Init attaches the window to its collaborators. The output registry must have
// completed its initial sync. The frame is mapped as soon as both the outputs
// and the toplevel are ready.
func (w *Window) Init(c Collaborators) error {
	w.log.Trace().Msg("Initializing")

	if c.Outputs == nil || !c.Outputs.InitDone() {
		return ErrOutputsNotSynced
	}
	if w.initCalled {
		return ErrAlreadyInitialized
	}
	w.initCalled = true

	w.surface = c.Surface
	w.frame = c.Frame
	w.fractional = c.FractionalScale

	// the registry may have finished its sync before the window observed it
	w.setFlag(FlagOutputsDone | FlagToplevelDone)
	return nil
}

// Cleanup detaches the collaborators and returns the window to its zero state.
// Listeners are kept.
func (w *Window) Cleanup() {
	w.log.Trace().Msg("Cleaning up")
	w.zero()
}

// InitCalled reports whether Init succeeded.
func (w *Window) InitCalled() bool {
	return w.initCalled
}

// InitDone reports whether the first commit happened.
func (w *Window) InitDone() bool {
	return w.flags.Has(FlagComplete)
}

// Flags returns the lifecycle flags.
func (w *Window) Flags() Flags { return w.flags }

// Changed returns the attributes dirtied since the last commit.
func (w *Window) Changed() Changed { return w.changed }

// Size returns the logical content size.
func (w *Window) Size() (int, int) { return w.width, w.height }

// BufferSize returns the buffer size derived at the last commit.
func (w *Window) BufferSize() (int, int) { return w.bufferWidth, w.bufferHeight }

// Scale returns the current, possibly fractional, scale factor.
func (w *Window) Scale() float64 { return w.scale }

// Transform returns the preferred buffer transform.
func (w *Window) Transform() transform.Transform { return w.transform }

// Output returns the output the surface is on, or nil.
func (w *Window) Output() *output.Entry { return w.current }

// Fullscreen reports the fullscreen state of the last configure.
func (w *Window) Fullscreen() bool { return w.fullscreen }

// FractionalScale reports whether a fractional scale source is in use.
func (w *Window) FractionalScale() bool { return w.fractional }

// CloseRequested reports whether the compositor asked the window to close.
func (w *Window) CloseRequested() bool { return w.closeRequested }

// SetFractionalScale switches the fractional scale source on or off, for
// sources that appear or vanish after Init. Without one, old surfaces fall
// back to the scale of the bound output.
func (w *Window) SetFractionalScale(available bool) {
	if !w.initCalled || w.fractional == available {
		return
	}
	w.log.Info().Bool("available", available).Msg("Fractional scale source changed")
	w.fractional = available

	if w.useOutputScale() && w.current != nil {
		w.applyOutputScale(w.current)
	}
}

// Scale precedence: a fractional source beats the surface preference, which
// beats the output scale.

func (w *Window) useOutputScale() bool {
	return !w.fractional && w.surfaceVersion() < 6
}

func (w *Window) useSurfacePreferredScale() bool {
	return !w.fractional && w.surfaceVersion() >= 6
}

func (w *Window) useFractionalScale() bool {
	return w.fractional
}

func (w *Window) surfaceVersion() uint32 {
	if w.surface == nil {
		return 0
	}
	return w.surface.Version()
}

// Enter binds the window to the output the surface entered.
func (w *Window) Enter(entry *output.Entry) {
	if !w.initCalled || entry == nil || w.current == entry {
		return
	}
	w.log.Debug().Str("output", entry.Name).Msg("Entering output")

	w.current = entry
	w.changed |= ChangedOutput

	if w.useOutputScale() {
		w.applyOutputScale(entry)
	}
}

// Leave is informational. The binding is replaced by the next Enter.
func (w *Window) Leave(entry *output.Entry) {
	if !w.initCalled || entry == nil || w.current != entry {
		return
	}
	w.log.Debug().Str("output", entry.Name).Msg("Leaving output")
}

// PreferredBufferScale handles an integer scale preference from the surface.
func (w *Window) PreferredBufferScale(scale int32) {
	if !w.initCalled || !w.useSurfacePreferredScale() {
		return
	}
	if w.scale == float64(scale) {
		return
	}
	w.log.Info().Int32("scale", scale).Msg("Using preferred integer scale")
	w.setScale(float64(scale))
}

// PreferredBufferTransform handles a transform preference from the surface.
func (w *Window) PreferredBufferTransform(t transform.Transform) {
	if !w.initCalled {
		return
	}
	if !t.Valid() {
		w.log.Warn().Stringer("transform", t).Msg("Ignoring invalid preferred transform")
		return
	}
	if w.transform == t {
		return
	}
	w.log.Info().Stringer("transform", t).Msg("Using preferred transform")
	w.transform = t
	w.changed |= ChangedTransform
}

// PreferredFractionalScale handles a fractional scale preference, given in
// 120ths.
func (w *Window) PreferredFractionalScale(scaleTimes120 uint32) {
	if !w.initCalled || !w.useFractionalScale() {
		return
	}
	scale := float64(scaleTimes120) / 120
	if w.scale == scale {
		return
	}
	w.log.Info().Float64("scale", scale).Msg("Using preferred fractional scale")
	w.setScale(scale)
}

// Configure applies a configure proposal. The result becomes visible at the
// next BeforePoll.
func (w *Window) Configure(cfg Configuration) {
	if !w.initCalled {
		return
	}
	w.log.Debug().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Bool("fullscreen", cfg.Fullscreen).
		Msg("Configuring")

	minWidth, minHeight := w.frame.MinContentSize()
	newMinWidth := max(minWidth, w.opts.MinWidth)
	newMinHeight := max(minHeight, w.opts.MinHeight)
	if newMinWidth != minWidth || newMinHeight != minHeight {
		w.log.Debug().
			Int("width", newMinWidth).
			Int("height", newMinHeight).
			Msg("Setting minimum size")
		w.frame.SetMinContentSize(newMinWidth, newMinHeight)
	}

	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		if w.width == 0 || w.height == 0 {
			w.log.Debug().Msg("Falling back to default size")
			width, height = newMinWidth, newMinHeight
		} else {
			w.log.Debug().Msg("Falling back to previous size")
			width, height = w.width, w.height
		}
	}

	if w.width != width || w.height != height {
		w.width, w.height = width, height
		w.changed |= ChangedSize
	}

	w.fullscreen = cfg.Fullscreen
	w.configured = true
}

// RequestClose records a close request from the compositor.
func (w *Window) RequestClose() {
	w.log.Debug().Msg("Close requested")
	w.closeRequested = true
}

// OutputInitDone implements output.Observer.
func (w *Window) OutputInitDone() {
	w.setFlag(FlagOutputsDone)
}

// OutputChanged implements output.Observer.
func (w *Window) OutputChanged(entry *output.Entry) {
	if !w.initCalled || w.current != entry {
		return
	}
	if w.useOutputScale() {
		w.applyOutputScale(entry)
	}
}

// OutputRemoved implements output.Observer.
func (w *Window) OutputRemoved(entry *output.Entry) {
	if !w.initCalled || w.current != entry {
		return
	}
	w.log.Debug().Str("output", entry.Name).Msg("Bound output removed")
	w.current = nil
}

// BeforePoll commits pending changes. Nothing is committed before the first
// configure.
func (w *Window) BeforePoll() {
	if !w.initCalled || !w.configured {
		return
	}
	w.commit()
}

func (w *Window) commit() {
	if w.changed == 0 {
		return
	}

	if w.changed.Has(ChangedSize) {
		w.log.Debug().
			Int("width", w.width).
			Int("height", w.height).
			Msg("New viewport destination size")
		w.surface.SetViewportDestination(w.width, w.height)
	}

	if w.changed.Has(ChangedSize | ChangedScale) {
		bufferWidth := int(math.Round(float64(w.width) * w.scale))
		bufferHeight := int(math.Round(float64(w.height) * w.scale))
		if bufferWidth != w.bufferWidth || bufferHeight != w.bufferHeight {
			w.log.Debug().
				Int("width", bufferWidth).
				Int("height", bufferHeight).
				Msg("New buffer size")
			w.bufferWidth, w.bufferHeight = bufferWidth, bufferHeight
			w.changed |= ChangedBufferSize
		}
	}

	if !w.flags.Has(FlagComplete) {
		w.flags |= FlagComplete
		w.log.Debug().Stringer("changed", w.changed).Msg("Initial commit")
		for _, l := range w.listeners {
			l.WindowInitDone(w)
		}
	} else {
		w.log.Debug().Stringer("changed", w.changed).Msg("Committing changes")
		for _, l := range w.listeners {
			l.WindowChanged(w, w.changed)
		}
	}

	w.surface.Commit()
	w.changed = 0
}

func (w *Window) setFlag(flag Flags) {
	wasReady := w.flags.Has(FlagReady)
	w.flags |= flag
	if !wasReady && w.flags.Has(FlagReady) {
		w.mapFrame()
	}
}

func (w *Window) mapFrame() {
	w.frame.SetAppID(w.opts.AppID)
	w.frame.SetTitle(w.opts.Title)

	w.log.Debug().Msg("Mapping frame")
	w.frame.Map()
}

func (w *Window) applyOutputScale(entry *output.Entry) {
	scale := float64(entry.Scale)
	if w.scale == scale {
		return
	}
	w.log.Info().Int32("scale", entry.Scale).Msg("Using output scale")
	w.setScale(scale)
}

func (w *Window) setScale(scale float64) {
	w.scale = scale
	w.changed |= ChangedScale
}
