package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var clearConfirmed bool

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Upsert entries from a JSON array file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Import(cmd.Context(), args[0])
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return errors.New("refusing to clear without --yes")
		}
		return getApp().Clear(cmd.Context())
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm deletion")
}
