// Package app owns the application context: the single state object every
// reactor callback and hook receives.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/wlmirror/internal/api"
	"github.com/bryanchriswhite/wlmirror/internal/config"
	"github.com/bryanchriswhite/wlmirror/internal/display"
	"github.com/bryanchriswhite/wlmirror/internal/event"
	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/window"
)

// Display is the display backend: the window's surface and frame, the output
// source, and the event pump feeding the reactor.
type Display interface {
	window.Surface
	window.Frame

	CreateWindow(width, height int) error
	Outputs() ([]output.Entry, error)
	Start(post display.Poster, sink display.WindowSink, outputs *output.Registry, fractional display.FractionalSource)
	Err() error
	Close() error
}

// Fractional is a fractional scale source watching for scale changes.
type Fractional interface {
	display.FractionalSource
	Watch(post display.Poster, sink display.WindowSink) error
	Close() error
}

var (
	_ Display    = (*display.X11)(nil)
	_ Fractional = (*display.Mutter)(nil)
)

// Options selects the backends. Nil constructors use the X11 and Mutter
// implementations.
type Options struct {
	ConnectDisplay    func() (Display, error)
	ConnectFractional func() (Fractional, error)

	// Signals stops the loop when set. Nil uses SIGINT and SIGTERM.
	Signals []os.Signal
}

// Context is the application state shared by every callback
type Context struct {
	ConfigMgr *config.Manager
	Config    *config.Config

	Reactor    *event.Reactor[*Context]
	Inbox      *event.Inbox[*Context]
	Outputs    *output.Registry
	Window     *window.Window
	Hub        *api.Hub
	Display    Display
	Fractional Fractional

	server  *api.Server
	sigChan chan os.Signal
	closing bool
	log     *zerolog.Logger
}

// New creates a zero context for the given configuration
func New(configMgr *config.Manager) *Context {
	return &Context{
		ConfigMgr: configMgr,
		Config:    configMgr.Get(),
		log:       logger.WithComponent("app"),
	}
}

// Init builds the reactor and every subsystem in dependency order. On error
// the caller must still call Cleanup.
func (c *Context) Init(opts Options) error {
	c.setDefaults(&opts)
	c.log.Trace().Msg("Initializing")

	reactor, err := event.New[*Context](event.Options{MaxEvents: c.Config.EventLoop.MaxEvents})
	if err != nil {
		return fmt.Errorf("failed to create reactor: %w", err)
	}
	c.Reactor = reactor

	inbox, err := event.NewInbox[*Context]()
	if err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	c.Inbox = inbox
	if err := c.Reactor.Register(c.Inbox.Handler()); err != nil {
		return fmt.Errorf("failed to register inbox: %w", err)
	}

	c.Outputs = output.NewRegistry()
	c.Window = window.New(window.Options{
		AppID:     c.Config.Window.AppID,
		Title:     c.Config.Window.Title,
		MinWidth:  c.Config.Window.MinWidth,
		MinHeight: c.Config.Window.MinHeight,
	})
	c.Outputs.AddObserver(c.Window)
	c.Hub = api.NewHub()
	c.Window.AddListener(c.Hub)

	disp, err := opts.ConnectDisplay()
	if err != nil {
		return fmt.Errorf("failed to connect display: %w", err)
	}
	c.Display = disp

	if err := c.Display.CreateWindow(window.DefaultWidth, window.DefaultHeight); err != nil {
		return err
	}
	entries, err := c.Display.Outputs()
	if err != nil {
		return fmt.Errorf("failed to enumerate outputs: %w", err)
	}
	if err := c.Outputs.Sync(entries); err != nil {
		return fmt.Errorf("failed to sync outputs: %w", err)
	}

	if err := c.connectFractional(opts.ConnectFractional); err != nil {
		return err
	}

	if err := c.Window.Init(window.Collaborators{
		Outputs:         c.Outputs,
		Surface:         c.Display,
		Frame:           c.Display,
		FractionalScale: c.Fractional != nil,
	}); err != nil {
		return fmt.Errorf("failed to initialize window: %w", err)
	}

	var fractional display.FractionalSource
	if c.Fractional != nil {
		fractional = c.Fractional
		if err := c.Fractional.Watch(c.Post, c.Window); err != nil {
			c.log.Warn().Err(err).Msg("Failed to watch fractional scale changes")
		}
	}
	c.Display.Start(c.Post, c.Window, c.Outputs, fractional)

	c.Reactor.OnBeforePoll(func(ctx *Context) {
		ctx.Window.BeforePoll()
	})

	c.watchSignals(opts.Signals)

	if c.Config.API.Enabled {
		c.startAPI()
	}

	c.log.Debug().
		Int("outputs", c.Outputs.Len()).
		Bool("fractional_scale", c.Fractional != nil).
		Msg("Initialized")
	return nil
}

func (c *Context) setDefaults(opts *Options) {
	if opts.ConnectDisplay == nil {
		opts.ConnectDisplay = func() (Display, error) {
			x, err := display.ConnectX11()
			if err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	if opts.ConnectFractional == nil {
		opts.ConnectFractional = func() (Fractional, error) {
			m, err := display.ConnectMutter()
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if opts.Signals == nil {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
}

func (c *Context) connectFractional(connect func() (Fractional, error)) error {
	mode := c.Config.Display.FractionalScale
	if mode == config.FractionalScaleOff {
		return nil
	}

	frac, err := connect()
	if err != nil {
		if mode == config.FractionalScaleMutter {
			return fmt.Errorf("failed to connect fractional scale source: %w", err)
		}
		c.log.Info().Err(err).Msg("Fractional scale source unavailable, using output scale")
		return nil
	}
	c.Fractional = frac
	return nil
}

// Post queues fn to run on the reactor thread
func (c *Context) Post(fn func()) error {
	return c.Inbox.Post(func(*Context) { fn() })
}

// RequestClose stops the loop before its next wait. Reactor thread only.
func (c *Context) RequestClose() {
	c.closing = true
}

// Closing reports whether the loop should stop
func (c *Context) Closing() bool {
	if c.closing {
		return true
	}
	if c.Window != nil && c.Window.CloseRequested() {
		return true
	}
	return c.Display != nil && c.Display.Err() != nil
}

// Run drives the reactor until the window is closed, a signal arrives or a
// fatal error occurs. A lost display connection is returned as an error.
func (c *Context) Run() error {
	c.log.Info().Msg("Running")

	if err := c.Reactor.Run(c, (*Context).Closing); err != nil {
		return err
	}
	if err := c.Display.Err(); err != nil {
		return err
	}
	return nil
}

// Cleanup releases everything Init created, in reverse order. It is safe on
// a partially initialized context.
func (c *Context) Cleanup() {
	c.log.Trace().Msg("Cleaning up")

	if c.sigChan != nil {
		signal.Stop(c.sigChan)
		close(c.sigChan)
		c.sigChan = nil
	}
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.server.Shutdown(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to shut down status API")
		}
		cancel()
		c.server = nil
	}
	if c.Window != nil {
		c.Window.Cleanup()
	}
	if c.Fractional != nil {
		if err := c.Fractional.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close fractional scale source")
		}
		c.Fractional = nil
	}
	if c.Inbox != nil {
		if c.Reactor != nil && c.Inbox.Handler().Registered() {
			if err := c.Reactor.Unregister(c.Inbox.Handler()); err != nil {
				c.log.Debug().Err(err).Msg("Failed to unregister inbox")
			}
		}
		if err := c.Inbox.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close inbox")
		}
	}
	if c.Display != nil {
		if err := c.Display.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close display")
		}
	}
	if c.Reactor != nil {
		if err := c.Reactor.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close reactor")
		}
	}
}

func (c *Context) watchSignals(signals []os.Signal) {
	if len(signals) == 0 {
		return
	}
	c.sigChan = make(chan os.Signal, 1)
	signal.Notify(c.sigChan, signals...)

	sigChan := c.sigChan
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		c.log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
		if err := c.Post(c.RequestClose); err != nil && !errors.Is(err, event.ErrClosed) {
			c.log.Warn().Err(err).Msg("Failed to post shutdown")
		}
	}()
}

func (c *Context) startAPI() {
	c.server = api.NewServer(c.Hub, c.Outputs, c.ConfigMgr)
	server, port := c.server, c.Config.API.Port
	go func() {
		if err := server.Start(port); err != nil {
			c.log.Error().Err(err).Msg("Status API stopped")
		}
	}()
}
