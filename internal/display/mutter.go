package display

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
)

// Mutter D-Bus constants
const (
	mutterService   = "org.gnome.Mutter.DisplayConfig"
	mutterPath      = "/org/gnome/Mutter/DisplayConfig"
	mutterInterface = "org.gnome.Mutter.DisplayConfig"

	busService  = "org.freedesktop.DBus"
	busPath     = "/org/freedesktop/DBus"
	ownerSignal = busService + ".NameOwnerChanged"
)

type monitorSpec struct {
	Connector string
	Vendor    string
	Product   string
	Serial    string
}

type monitorMode struct {
	ID              string
	Width           int32
	Height          int32
	RefreshRate     float64
	PreferredScale  float64
	SupportedScales []float64
	Properties      map[string]dbus.Variant
}

type monitor struct {
	Spec       monitorSpec
	Modes      []monitorMode
	Properties map[string]dbus.Variant
}

type logicalMonitor struct {
	X          int32
	Y          int32
	Scale      float64
	Transform  uint32
	Primary    bool
	Monitors   []monitorSpec
	Properties map[string]dbus.Variant
}

// Mutter reads per-monitor fractional scales from GNOME's display
// configuration service.
type Mutter struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	log  *zerolog.Logger

	mu     sync.RWMutex
	scales map[string]float64

	stopChan chan struct{}
	stopOnce sync.Once
}

var _ FractionalSource = (*Mutter)(nil)

// ConnectMutter connects to the session bus and reads the current monitor
// state. ErrUnavailable is returned when Mutter is not running.
func ConnectMutter() (*Mutter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	found := false
	for _, name := range names {
		if name == mutterService {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", mutterService, ErrUnavailable)
	}

	m := &Mutter{
		conn:     conn,
		obj:      conn.Object(mutterService, mutterPath),
		log:      logger.WithComponent("mutter"),
		scales:   make(map[string]float64),
		stopChan: make(chan struct{}),
	}
	if err := m.Refresh(); err != nil {
		conn.Close()
		return nil, err
	}

	m.log.Info().Msg("Connected to Mutter D-Bus service")
	return m, nil
}

// Refresh re-reads the logical monitor scales
func (m *Mutter) Refresh() error {
	var (
		serial     uint32
		monitors   []monitor
		logical    []logicalMonitor
		properties map[string]dbus.Variant
	)
	err := m.obj.Call(mutterInterface+".GetCurrentState", 0).
		Store(&serial, &monitors, &logical, &properties)
	if err != nil {
		return fmt.Errorf("failed to get Mutter display state: %w", err)
	}

	scales := scalesByConnector(logical)

	m.mu.Lock()
	m.scales = scales
	m.mu.Unlock()

	m.log.Debug().
		Uint32("serial", serial).
		Int("monitors", len(monitors)).
		Interface("scales", scales).
		Msg("Display state refreshed")
	return nil
}

// Preferred implements FractionalSource
func (m *Mutter) Preferred(name string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scale, ok := m.scales[name]
	if !ok {
		return 0, false
	}
	return ScaleTimes120(scale), true
}

// Watch listens for MonitorsChanged and re-applies the scale of the output
// the window is on. It also follows the service owner, so the window falls
// back to integer scales while Mutter is gone. Proposals run on the reactor
// thread.
func (m *Mutter) Watch(post Poster, sink WindowSink) error {
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mutterPath),
		dbus.WithMatchInterface(mutterInterface),
		dbus.WithMatchMember("MonitorsChanged"),
	); err != nil {
		return fmt.Errorf("failed to add match for MonitorsChanged: %w", err)
	}
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchSender(busService),
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(busService),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, mutterService),
	); err != nil {
		return fmt.Errorf("failed to add match for NameOwnerChanged: %w", err)
	}

	signalChan := make(chan *dbus.Signal, 10)
	m.conn.Signal(signalChan)

	go func() {
		defer m.conn.RemoveSignal(signalChan)
		for {
			select {
			case <-m.stopChan:
				return
			case sig, ok := <-signalChan:
				if !ok {
					return
				}
				m.handleSignal(sig, post, sink)
			}
		}
	}()
	return nil
}

func (m *Mutter) handleSignal(sig *dbus.Signal, post Poster, sink WindowSink) {
	if sig == nil {
		return
	}

	var update func()
	switch {
	case sig.Name == mutterInterface+".MonitorsChanged":
		if err := m.Refresh(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to refresh display state")
			return
		}
		update = func() { applyFractional(sink, m, sink.Output()) }
	default:
		available, ok := ownerChange(sig)
		if !ok {
			return
		}
		if available {
			if err := m.Refresh(); err != nil {
				m.log.Warn().Err(err).Msg("Failed to refresh display state")
				return
			}
		} else {
			m.forget()
		}
		m.log.Info().Bool("available", available).Msg("Mutter display service owner changed")
		update = ownerUpdate(sink, m, available)
	}

	if err := post(update); err != nil {
		m.log.Debug().Err(err).Msg("Failed to post scale update")
	}
}

// forget drops the known scales after the service vanished
func (m *Mutter) forget() {
	m.mu.Lock()
	m.scales = make(map[string]float64)
	m.mu.Unlock()
}

// ownerChange reports whether sig moves ownership of the Mutter service, and
// whether the service has an owner afterwards.
func ownerChange(sig *dbus.Signal) (available bool, ok bool) {
	if sig.Name != ownerSignal || len(sig.Body) != 3 {
		return false, false
	}
	name, _ := sig.Body[0].(string)
	newOwner, isString := sig.Body[2].(string)
	if name != mutterService || !isString {
		return false, false
	}
	return newOwner != "", true
}

// ownerUpdate switches the window's fractional source and, when it came
// back, proposes the scale of the bound output.
func ownerUpdate(sink WindowSink, fractional FractionalSource, available bool) func() {
	return func() {
		sink.SetFractionalScale(available)
		if available {
			applyFractional(sink, fractional, sink.Output())
		}
	}
}

// Close stops watching and closes the bus connection
func (m *Mutter) Close() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	return m.conn.Close()
}

func scalesByConnector(logical []logicalMonitor) map[string]float64 {
	scales := make(map[string]float64)
	for _, lm := range logical {
		for _, spec := range lm.Monitors {
			scales[spec.Connector] = lm.Scale
		}
	}
	return scales
}
