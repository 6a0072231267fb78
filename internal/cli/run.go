package cli

import (
	"github.com/spf13/cobra"
)

var (
	runDryRun     bool
	executeDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily investment scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), runDryRun)
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute the strategy once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Execute(cmd.Context(), executeDryRun)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Decide and log without placing orders")
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false, "Decide and log without placing orders")
}
