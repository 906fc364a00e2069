package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crypto-sentinel/internal/app"
)

var (
	exportFrom    string
	exportTo      string
	exportPNGPath string
	exportCSVPath string
	exportFilter  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries as CSV and/or a PNG chart of daily counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			Filter:  exportFilter,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVarP(&exportFilter, "filter", "f", "", "Case-insensitive match on symbol or title")
}
