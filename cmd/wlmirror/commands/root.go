package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/wlmirror/internal/config"
	"github.com/bryanchriswhite/wlmirror/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "wlmirror",
		Short: "wlmirror - Output mirror window",
		Long: `wlmirror opens a window that follows the configuration of the output it
is shown on: its size, scale and transform are tracked and every change is
committed once per event loop iteration.

Features:
  • Single-threaded event loop over epoll
  • Output tracking via RandR
  • Fractional scales from Mutter over D-Bus
  • Persistent configuration
  • Optional status API with a WebSocket commit stream`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/wlmirror/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("api-port", 0, "status API port (default is 8080)")
	rootCmd.PersistentFlags().String("backend", "", "display backend (x11)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("api.port", rootCmd.PersistentFlags().Lookup("api-port"))
	viper.BindPFlag("display.backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	// WLMIRROR_API_PORT overrides api.port, and so on
	viper.SetEnvPrefix("wlmirror")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig loads the config file, applies flag and environment overrides
// and initializes logging from the result.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, key := range config.Keys() {
		if !viper.IsSet(key) {
			continue
		}
		if err := configMgr.Override(key, viper.GetString(key)); err != nil {
			return nil, fmt.Errorf("invalid override for %s: %w", key, err)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
