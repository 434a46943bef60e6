package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"collectible-pricing/internal/app"
)

var (
	alertOpts   app.AlertOptions
	eventsOpts  app.EventsOptions
	eventsLimit int
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage price alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or replace an alert rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOpts.UserID == "" {
			return fmt.Errorf("--user is required")
		}
		return getApp().AddAlert(cmd.Context(), alertOpts)
	},
}

var alertEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List triggered alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		eventsOpts.Limit = eventsLimit
		return getApp().Events(cmd.Context(), eventsOpts)
	},
}

func init() {
	f := alertAddCmd.Flags()
	f.StringVar(&alertOpts.ID, "id", "", "Alert id (generated when empty; reuse to replace)")
	f.StringVar(&alertOpts.UserID, "user", "", "Owner of the alert")
	f.StringVar(&alertOpts.ItemNumber, "item", "", "Item number (empty applies to every item)")
	f.StringVar(&alertOpts.Condition, "condition", "", "SEALED or USED (empty applies to both)")
	f.StringVar(&alertOpts.Type, "type", "threshold", "threshold or percent_change")
	f.StringVar(&alertOpts.Direction, "direction", "above", "above, below or either")
	f.StringVar(&alertOpts.Threshold, "threshold", "", "Threshold price in currency units, e.g. 249.99")
	f.Float64Var(&alertOpts.PercentChange, "percent", 0, "Percent change that triggers a percent_change alert")
	f.IntVar(&alertOpts.WindowDays, "window-days", 30, "Trend window in days")
	f.BoolVar(&alertOpts.Disabled, "disabled", false, "Store the alert disabled")

	e := alertEventsCmd.Flags()
	e.StringVar(&eventsOpts.UserID, "user", "", "Only events of this user")
	e.StringVar(&eventsOpts.ItemNumber, "item", "", "Only events of this item")
	e.BoolVar(&eventsOpts.UnsentOnly, "unsent", false, "Only events whose notification was not delivered")
	e.IntVar(&eventsLimit, "limit", 20, "Number of events to display")

	alertCmd.AddCommand(alertAddCmd)
	alertCmd.AddCommand(alertEventsCmd)
}
