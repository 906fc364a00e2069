package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-sentinel/internal/app"
	"crypto-sentinel/internal/listing"
)

var (
	showFilter string
	showSource string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored entries per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			Filter: showFilter,
			Limit:  showLimit,
		}
		if showSource != "" {
			src, err := listing.ParseSource(showSource)
			if err != nil {
				return err
			}
			opts.Source = src
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVarP(&showFilter, "filter", "f", "", "Case-insensitive match on symbol or title")
	showCmd.Flags().StringVar(&showSource, "source", "", "Only show one source (cmc, ourbit, mexc)")
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Rows per table (defaults to config)")
}
