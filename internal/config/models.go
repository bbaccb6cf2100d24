package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"gopkg.in/yaml.v3"
)

// Fractional scale modes
const (
	FractionalScaleAuto   = "auto"
	FractionalScaleMutter = "mutter"
	FractionalScaleOff    = "off"
)

// BackendX11 is the only display backend currently built in.
const BackendX11 = "x11"

var ErrUnknownKey = errors.New("unknown configuration key")

// Config represents the application configuration
type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogPretty bool            `json:"log_pretty" yaml:"log_pretty"`
	Window    WindowConfig    `json:"window" yaml:"window"`
	Display   DisplayConfig   `json:"display" yaml:"display"`
	EventLoop EventLoopConfig `json:"event_loop" yaml:"event_loop"`
	API       APIConfig       `json:"api" yaml:"api"`
}

// WindowConfig holds the static properties of the mirror window
type WindowConfig struct {
	AppID     string `json:"app_id" yaml:"app_id"`
	Title     string `json:"title" yaml:"title"`
	MinWidth  int    `json:"min_width" yaml:"min_width"`
	MinHeight int    `json:"min_height" yaml:"min_height"`
}

// DisplayConfig selects the display backend and the fractional scale source
type DisplayConfig struct {
	Backend         string `json:"backend" yaml:"backend"`
	FractionalScale string `json:"fractional_scale" yaml:"fractional_scale"`
}

// EventLoopConfig tunes the reactor
type EventLoopConfig struct {
	MaxEvents int `json:"max_events" yaml:"max_events"`
}

// APIConfig represents the status API configuration
type APIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Window: WindowConfig{
			AppID:     "at.yrlf.wl_mirror",
			Title:     "Wayland Output Mirror",
			MinWidth:  100,
			MinHeight: 100,
		},
		Display: DisplayConfig{
			Backend:         BackendX11,
			FractionalScale: FractionalScaleAuto,
		},
		EventLoop: EventLoopConfig{
			MaxEvents: 16,
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
		},
	}
}

// Validate checks that all values are usable
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", c.LogLevel)
	}
	if c.Window.MinWidth <= 0 || c.Window.MinHeight <= 0 {
		return fmt.Errorf("invalid minimum window size: %dx%d", c.Window.MinWidth, c.Window.MinHeight)
	}
	if c.Display.Backend != BackendX11 {
		return fmt.Errorf("unsupported display backend: %s (use: %s)", c.Display.Backend, BackendX11)
	}
	switch c.Display.FractionalScale {
	case FractionalScaleAuto, FractionalScaleMutter, FractionalScaleOff:
	default:
		return fmt.Errorf("invalid fractional scale mode: %s (use: auto, mutter, off)", c.Display.FractionalScale)
	}
	if c.EventLoop.MaxEvents <= 0 {
		return fmt.Errorf("invalid event_loop.max_events: %d", c.EventLoop.MaxEvents)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.API.Port)
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $XDG_CONFIG_HOME/wlmirror/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "wlmirror", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile selects
// DefaultPath. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	configPath := configFile
	if configPath == "" {
		var err error
		if configPath, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		configPath: configPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// unset keys keep their defaults
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := m.GetConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := *cfg

	m.mu.Lock()
	m.config = &next
	m.mu.Unlock()
	return m.Save()
}

// Keys lists the keys accepted by Set and GetValue
func Keys() []string {
	return []string{
		"log_level",
		"log_pretty",
		"window.app_id",
		"window.title",
		"window.min_width",
		"window.min_height",
		"display.backend",
		"display.fractional_scale",
		"event_loop.max_events",
		"api.enabled",
		"api.port",
	}
}

// Set parses value for key, validates the result and saves it
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()
	if err := apply(cfg, key, value); err != nil {
		return err
	}
	return m.Update(cfg)
}

// Override applies value for key in memory only. Command line flags and
// environment variables use it so they never rewrite the file.
func (m *Manager) Override(key, value string) error {
	cfg := m.Get()
	if err := apply(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	logger.WithComponent("config").Debug().
		Str("key", key).
		Str("value", value).
		Msg("Config overridden")
	return nil
}

func apply(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "log_level":
		cfg.LogLevel = value
	case "log_pretty":
		cfg.LogPretty, err = parseBool(value)
	case "window.app_id":
		cfg.Window.AppID = value
	case "window.title":
		cfg.Window.Title = value
	case "window.min_width":
		cfg.Window.MinWidth, err = parseInt(value)
	case "window.min_height":
		cfg.Window.MinHeight, err = parseInt(value)
	case "display.backend":
		cfg.Display.Backend = value
	case "display.fractional_scale":
		cfg.Display.FractionalScale = value
	case "event_loop.max_events":
		cfg.EventLoop.MaxEvents, err = parseInt(value)
	case "api.enabled":
		cfg.API.Enabled, err = parseBool(value)
	case "api.port":
		cfg.API.Port, err = parseInt(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// GetValue returns the value of key formatted as a string
func (m *Manager) GetValue(key string) (string, error) {
	cfg := m.Get()

	switch key {
	case "log_level":
		return cfg.LogLevel, nil
	case "log_pretty":
		return strconv.FormatBool(cfg.LogPretty), nil
	case "window.app_id":
		return cfg.Window.AppID, nil
	case "window.title":
		return cfg.Window.Title, nil
	case "window.min_width":
		return strconv.Itoa(cfg.Window.MinWidth), nil
	case "window.min_height":
		return strconv.Itoa(cfg.Window.MinHeight), nil
	case "display.backend":
		return cfg.Display.Backend, nil
	case "display.fractional_scale":
		return cfg.Display.FractionalScale, nil
	case "event_loop.max_events":
		return strconv.Itoa(cfg.EventLoop.MaxEvents), nil
	case "api.enabled":
		return strconv.FormatBool(cfg.API.Enabled), nil
	case "api.port":
		return strconv.Itoa(cfg.API.Port), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

func parseInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", value)
	}
	return n, nil
}

func parseBool(value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %s (use: true or false)", value)
	}
	return b, nil
}
