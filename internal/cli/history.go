package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ahr999-autoinvest/internal/app"
)

var (
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"show"},
	Short:   "Display recent investment records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: historyLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of records to display")
}
