package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"collectible-pricing/internal/conflict"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/resolver"
)

// LookupOptions select a single item by number or barcode.
type LookupOptions struct {
	ItemNumber string
	GTIN       string
}

// SearchOptions configure the search command.
type SearchOptions struct {
	Query string
	Limit int
}

func (a *App) catalog(ctx context.Context) (*resolver.LocalFirst, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	catalogs, _ := a.newProviders(a.newLimiter())
	r, err := a.newResolver(store, catalogs)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return r, closeStore, nil
}

// Lookup resolves one item and caches it so later refreshes track it.
func (a *App) Lookup(ctx context.Context, opts LookupOptions) error {
	if opts.ItemNumber == "" && opts.GTIN == "" {
		return errors.New("an item number or --gtin is required")
	}
	r, closeCatalog, err := a.catalog(ctx)
	if err != nil {
		return err
	}
	defer closeCatalog()

	var item *models.ItemMetadata
	if opts.GTIN != "" {
		item, err = r.GetByGTIN(ctx, opts.GTIN)
	} else {
		item, err = r.GetByNumber(ctx, provider.NormalizeItemNumber(opts.ItemNumber))
	}
	if err != nil {
		return err
	}
	if item == nil {
		fmt.Fprintln(a.Out, "item not found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Number\t%s\n", item.ItemNumber)
	fmt.Fprintf(writer, "Name\t%s\n", item.Name)
	fmt.Fprintf(writer, "Category\t%s\n", item.Category)
	fmt.Fprintf(writer, "Year\t%s\n", intOrDash(item.Year))
	fmt.Fprintf(writer, "Pieces\t%s\n", intOrDash(item.PieceCount))
	fmt.Fprintf(writer, "MSRP\t%s\n", centsOrDash(item.MSRPCents))
	fmt.Fprintf(writer, "Retired\t%s\n", retiredLabel(item.Retired))
	fmt.Fprintf(writer, "GTIN\t%s\n", dash(item.GTIN))
	fmt.Fprintf(writer, "Source\t%s\n", dash(item.Source))
	fmt.Fprintf(writer, "Quality\t%d\n", conflict.QualityScore(*item))
	for _, k := range sortedKeys(item.ExternalIDs) {
		fmt.Fprintf(writer, "ID (%s)\t%s\n", k, item.ExternalIDs[k])
	}
	return writer.Flush()
}

// Search lists matching items, from the local store when it has any.
func (a *App) Search(ctx context.Context, opts SearchOptions) error {
	r, closeCatalog, err := a.catalog(ctx)
	if err != nil {
		return err
	}
	defer closeCatalog()

	items, err := r.SearchItems(ctx, opts.Query)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	if len(items) == 0 {
		fmt.Fprintln(a.Out, "no items found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Number\tName\tYear\tCategory\tSource")
	for _, it := range items {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			it.ItemNumber, sanitizeInline(it.Name), intOrDash(it.Year), sanitizeInline(it.Category), dash(it.Source))
	}
	return writer.Flush()
}

func intOrDash(v int) string {
	if v <= 0 {
		return "-"
	}
	return strconv.Itoa(v)
}

func dash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func retiredLabel(v *bool) string {
	switch {
	case v == nil:
		return "unknown"
	case *v:
		return "yes"
	default:
		return "no"
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
