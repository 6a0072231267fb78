package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulatePrice string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟给定价格下的一次定投决策（不下单）",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" {
			return errors.New("--price 必须提供")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return errors.New("--price 不是合法数字")
		}
		return getApp().Simulate(cmd.Context(), price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "假设的当前价格（计价币种）")
}
