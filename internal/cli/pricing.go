package cli

import (
	"github.com/spf13/cobra"

	"collectible-pricing/internal/app"
)

var estimateCondition string

var estimateCmd = &cobra.Command{
	Use:   "estimate <item-number>",
	Short: "Show estimate, trend and forecast from stored observations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Estimate(cmd.Context(), app.EstimateOptions{
			ItemNumber: args[0],
			Condition:  estimateCondition,
		})
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <item-number>",
	Short: "Evaluate alert rules for an item and send notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), args[0])
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateCondition, "condition", "", "SEALED or USED (default both)")
}
