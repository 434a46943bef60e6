// Package aggregate fans catalog and price queries out to every configured source
// and merges what comes back. Individual source failures are logged and skipped.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

// Catalog merges several catalog providers in their configured order.
type Catalog struct {
	providers []provider.CatalogProvider
	logger    zerolog.Logger
}

// NewCatalog fails when no provider is configured.
func NewCatalog(providers []provider.CatalogProvider, logger zerolog.Logger) (*Catalog, error) {
	if len(providers) == 0 {
		return nil, &provider.ConfigurationError{Capability: "catalog"}
	}
	return &Catalog{
		providers: providers,
		logger:    logger.With().Str("component", "catalog_aggregator").Logger(),
	}, nil
}

// Name labels records produced by the aggregator.
func (c *Catalog) Name() string { return "composite" }

// Sources lists the provider names in order.
func (c *Catalog) Sources() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

type searchResult struct {
	items []models.ItemMetadata
	err   error
}

// SearchItems queries every provider concurrently and merges by item number.
// It fails only when every provider failed.
func (c *Catalog) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	results := make([]searchResult, len(c.providers))
	var wg sync.WaitGroup
	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p provider.CatalogProvider) {
			defer wg.Done()
			items, err := p.SearchItems(ctx, query)
			results[i] = searchResult{items: items, err: err}
		}(i, p)
	}
	wg.Wait()

	var errs []error
	index := make(map[string]int)
	merged := make([]models.ItemMetadata, 0)
	for i, res := range results {
		name := c.providers[i].Name()
		if res.err != nil {
			c.logger.Warn().Err(res.err).Str("source", name).Str("query", query).Msg("catalog search failed; skipping source")
			errs = append(errs, res.err)
			continue
		}
		for _, item := range res.items {
			if err := item.Validate(); err != nil {
				c.logger.Debug().Str("source", name).Str("item", item.ItemNumber).Msg("dropping incomplete record")
				continue
			}
			if pos, ok := index[item.ItemNumber]; ok {
				merged[pos] = mergeFirstSeen(merged[pos], item)
				continue
			}
			index[item.ItemNumber] = len(merged)
			merged = append(merged, item.Clone())
		}
	}

	if len(errs) == len(c.providers) {
		return nil, fmt.Errorf("catalog search %q: %w", query, errors.Join(errs...))
	}
	return merged, nil
}

// GetByNumber returns the first non-nil record in configured order.
func (c *Catalog) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	return c.firstHit(ctx, "get_by_number", itemNumber, func(p provider.CatalogProvider) (*models.ItemMetadata, error) {
		return p.GetByNumber(ctx, itemNumber)
	})
}

// GetByGTIN returns the first non-nil record in configured order.
func (c *Catalog) GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error) {
	return c.firstHit(ctx, "get_by_gtin", gtin, func(p provider.CatalogProvider) (*models.ItemMetadata, error) {
		return p.GetByGTIN(ctx, gtin)
	})
}

func (c *Catalog) firstHit(ctx context.Context, op, key string, call func(provider.CatalogProvider) (*models.ItemMetadata, error)) (*models.ItemMetadata, error) {
	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := call(p)
		if err != nil {
			c.logger.Warn().Err(err).Str("source", p.Name()).Str("op", op).Str("item", key).Msg("catalog lookup failed; trying next source")
			errs = append(errs, err)
			continue
		}
		if item == nil {
			continue
		}
		if err := item.Validate(); err != nil {
			c.logger.Debug().Str("source", p.Name()).Str("item", key).Msg("ignoring incomplete record")
			continue
		}
		return item, nil
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s %s: %w", op, key, errors.Join(append([]error{provider.ErrNotFound}, errs...)...))
	}
	return nil, fmt.Errorf("%s %s: %w", op, key, provider.ErrNotFound)
}

// mergeFirstSeen keeps the first non-empty value per field. The retired flag is
// overwritten by every later source that reports it.
func mergeFirstSeen(acc, next models.ItemMetadata) models.ItemMetadata {
	if acc.Name == "" {
		acc.Name = next.Name
	}
	if acc.Category == "" {
		acc.Category = next.Category
	}
	if acc.Year == 0 {
		acc.Year = next.Year
	}
	if acc.PieceCount == 0 {
		acc.PieceCount = next.PieceCount
	}
	if acc.MSRPCents == 0 {
		acc.MSRPCents = next.MSRPCents
	}
	if acc.ImageURL == "" {
		acc.ImageURL = next.ImageURL
	}
	if acc.GTIN == "" {
		acc.GTIN = next.GTIN
	}
	if next.Retired != nil {
		v := *next.Retired
		acc.Retired = &v
	}
	for k, v := range next.ExternalIDs {
		if acc.ExternalIDs == nil {
			acc.ExternalIDs = make(map[string]string)
		}
		if _, ok := acc.ExternalIDs[k]; !ok {
			acc.ExternalIDs[k] = v
		}
	}
	if next.LastVerified.After(acc.LastVerified) {
		acc.LastVerified = next.LastVerified
	}
	return acc
}

var _ provider.CatalogProvider = (*Catalog)(nil)
