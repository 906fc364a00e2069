package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled sync service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch all sources once and store new entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sync(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display record counts and last sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context())
	},
}

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Print daily entry counts per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context())
	},
}
