package cli

import (
	"time"

	"github.com/spf13/cobra"

	"collectible-pricing/internal/app"
)

var (
	refreshBatchSize int
	refreshDelay     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the periodic price refresh service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [item-number]",
	Short: "Refresh prices now for one item or every stale tracked item",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RefreshOptions{
			BatchSize:       refreshBatchSize,
			InterBatchDelay: refreshDelay,
		}
		if len(args) == 1 {
			opts.ItemNumber = args[0]
		}
		return getApp().Refresh(cmd.Context(), opts)
	},
}

func init() {
	refreshCmd.Flags().IntVar(&refreshBatchSize, "batch-size", 0, "Items refreshed concurrently per batch (defaults to config)")
	refreshCmd.Flags().DurationVar(&refreshDelay, "delay", 0, "Pause between batches (defaults to config)")
}
