package cli

import (
	"github.com/spf13/cobra"
)

var indicatorCmd = &cobra.Command{
	Use:   "indicator",
	Short: "Show the current AHR999 value and suggested action",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Indicator(cmd.Context())
	},
}

var testExchangeCmd = &cobra.Command{
	Use:   "test-exchange [name]",
	Short: "Check exchange connectivity, ticker and balance",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return getApp().TestExchange(cmd.Context(), name)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and API credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Validate()
	},
}
