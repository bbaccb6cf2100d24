package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/wlmirror/internal/config"
	"github.com/bryanchriswhite/wlmirror/internal/display"
	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/bryanchriswhite/wlmirror/internal/output"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs [name...]",
	Short: "List outputs",
	Long: `List the outputs known to the display backend.

This command connects to the X server and enumerates the connected RandR
outputs. When a fractional scale source is available its scale is shown too.
Naming outputs limits the listing to them.`,
	Example: `  # List outputs in table format (default)
  wlmirror outputs

  # Show a single output in JSON format
  wlmirror outputs eDP-1 --format json`,
	RunE: runOutputs,
}

var outputsFormat string

// outputRow is an output with the fractional scale reported for it, if any
type outputRow struct {
	output.Entry
	FractionalScale float64 `json:"fractional_scale,omitempty"`
}

func init() {
	rootCmd.AddCommand(outputsCmd)

	outputsCmd.Flags().StringVarP(&outputsFormat, "format", "f", "table", "output format (table or json)")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	x, err := display.ConnectX11()
	if err != nil {
		return err
	}
	defer x.Close()

	entries, err := x.Outputs()
	if err != nil {
		return err
	}
	entries, err = selectOutputs(entries, args)
	if err != nil {
		return err
	}

	var fractional display.FractionalSource
	if cfg.Display.FractionalScale != config.FractionalScaleOff {
		m, err := display.ConnectMutter()
		if err != nil {
			logger.WithComponent("mutter").Debug().Err(err).Msg("Fractional scale source unavailable")
		} else {
			defer m.Close()
			fractional = m
		}
	}

	rows := outputRows(entries, fractional)

	switch outputsFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "table":
		return printOutputsTable(cmd.OutOrStdout(), rows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", outputsFormat)
	}
}

// selectOutputs returns the named outputs in the order given, or every output
// when no name is given.
func selectOutputs(entries []output.Entry, names []string) ([]output.Entry, error) {
	if len(names) == 0 {
		return entries, nil
	}
	registry := output.NewRegistry()
	if err := registry.Sync(entries); err != nil {
		return nil, err
	}

	selected := make([]output.Entry, 0, len(names))
	for _, name := range names {
		entry := registry.FindByName(name)
		if entry == nil {
			return nil, fmt.Errorf("unknown output: %s", name)
		}
		selected = append(selected, *entry)
	}
	return selected, nil
}

func outputRows(entries []output.Entry, fractional display.FractionalSource) []outputRow {
	rows := make([]outputRow, 0, len(entries))
	for _, e := range entries {
		row := outputRow{Entry: e}
		if fractional != nil {
			if scale, ok := fractional.Preferred(e.Name); ok {
				row.FractionalScale = float64(scale) / 120
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func printOutputsTable(out io.Writer, rows []outputRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tID\tGEOMETRY\tSCALE\tFRACTIONAL\tTRANSFORM")
	fmt.Fprintln(w, "----\t--\t--------\t-----\t----------\t---------")

	for _, r := range rows {
		fractional := "-"
		if r.FractionalScale > 0 {
			fractional = fmt.Sprintf("%.3g", r.FractionalScale)
		}
		fmt.Fprintf(w, "%s\t%d\t%dx%d+%d+%d\t%d\t%s\t%s\n",
			r.Name, r.ID,
			r.Geometry.Width, r.Geometry.Height, r.Geometry.X, r.Geometry.Y,
			r.Scale, fractional, r.Transform)
	}

	return nil
}

