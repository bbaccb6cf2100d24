package commands

import (
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/wlmirror/internal/app"
	"github.com/bryanchriswhite/wlmirror/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the mirror window",
	Long: `Open the mirror window and run the event loop until the window is closed,
SIGINT or SIGTERM is received, or the display connection is lost.`,
	Example: `  # Run with the configured settings
  wlmirror run

  # Run with debug logging and the status API on port 9090
  WLMIRROR_API_ENABLED=true wlmirror run --log-level debug --api-port 9090`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.WithComponent("app")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", configMgr.Get().Display.Backend).
		Msg("Starting wlmirror")

	ctx := app.New(configMgr)
	defer ctx.Cleanup()

	if err := ctx.Init(app.Options{}); err != nil {
		log.Error().Err(err).Msg("Initialization failed")
		return err
	}

	if err := ctx.Run(); err != nil {
		log.Error().Err(err).Msg("Event loop failed")
		return err
	}

	log.Info().Msg("Stopped")
	return nil
}
