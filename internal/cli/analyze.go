package cli

import (
	"github.com/spf13/cobra"

	"ahr999-autoinvest/internal/app"
)

var (
	analyzeDays     int
	analyzeHorizons []int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show AHR999 zone distribution and forward returns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			Days:     analyzeDays,
			Horizons: analyzeHorizons,
		})
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeDays, "days", 1460, "Number of days to analyze")
	analyzeCmd.Flags().IntSliceVar(&analyzeHorizons, "horizons", nil, "Holding periods in days (default 30,90,180)")
}
