package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"collectible-pricing/internal/app"
)

var (
	lookupGTIN  string
	searchLimit int
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [item-number]",
	Short: "Resolve an item from the local cache or the catalog sources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.LookupOptions{GTIN: lookupGTIN}
		if len(args) == 1 {
			opts.ItemNumber = args[0]
		}
		return getApp().Lookup(cmd.Context(), opts)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search items by number or name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Search(cmd.Context(), app.SearchOptions{
			Query: strings.Join(args, " "),
			Limit: searchLimit,
		})
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupGTIN, "gtin", "", "Look up by barcode (UPC/EAN) instead of item number")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "Maximum results to display")
}
