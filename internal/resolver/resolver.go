// Package resolver serves catalog reads from the local store and falls back to the
// remote sources on a miss, caching what it fetches.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/conflict"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/storage"
)

const defaultSearchLimit = 50

// Options configures a LocalFirst resolver.
type Options struct {
	Store       storage.ItemStore
	Remote      provider.CatalogProvider
	SearchLimit int
	Clock       clock.Clock
}

// LocalFirst implements the catalog capability on top of a store and a remote catalog.
type LocalFirst struct {
	store       storage.ItemStore
	remote      provider.CatalogProvider
	searchLimit int
	clock       clock.Clock
	logger      zerolog.Logger
}

var _ provider.CatalogProvider = (*LocalFirst)(nil)

// New wires the resolver. The remote catalog is mandatory.
func New(opts Options, logger zerolog.Logger) (*LocalFirst, error) {
	if opts.Remote == nil {
		return nil, &provider.ConfigurationError{Capability: "catalog", Reason: "local-first resolver needs a remote catalog"}
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &LocalFirst{
		store:       opts.Store,
		remote:      opts.Remote,
		searchLimit: opts.SearchLimit,
		clock:       opts.Clock,
		logger:      logger.With().Str("component", "resolver").Logger(),
	}, nil
}

// Name identifies the resolver.
func (r *LocalFirst) Name() string { return "local-first" }

// SearchItems answers from the store when it has any substring match.
func (r *LocalFirst) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.ItemMetadata{}, nil
	}

	if r.store != nil {
		cached, err := r.store.SearchItems(ctx, query, r.searchLimit)
		if err != nil {
			r.logger.Warn().Err(err).Str("query", query).Msg("local search failed; falling back to sources")
		} else if len(cached) > 0 {
			out := make([]models.ItemMetadata, 0, len(cached))
			for _, it := range cached {
				out = append(out, it.ItemMetadata)
			}
			return out, nil
		}
	}

	items, err := r.remote.SearchItems(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		r.persist(ctx, it)
	}
	return items, nil
}

// GetByNumber returns nil, nil when no source knows the item.
func (r *LocalFirst) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	itemNumber = strings.TrimSpace(itemNumber)
	if r.store != nil {
		cached, err := r.store.GetItem(ctx, itemNumber)
		if err != nil {
			r.logger.Warn().Err(err).Str("item", itemNumber).Msg("local lookup failed; falling back to sources")
		} else if cached != nil {
			item := cached.ItemMetadata
			return &item, nil
		}
	}

	return r.fetch(ctx, "get_by_number", itemNumber, func() (*models.ItemMetadata, error) {
		return r.remote.GetByNumber(ctx, itemNumber)
	})
}

// GetByGTIN looks up the barcode locally before asking the sources.
func (r *LocalFirst) GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error) {
	gtin = strings.TrimSpace(gtin)
	if r.store != nil {
		cached, err := r.store.GetItemByGTIN(ctx, gtin)
		if err != nil {
			r.logger.Warn().Err(err).Str("gtin", gtin).Msg("local gtin lookup failed; falling back to sources")
		} else if cached != nil {
			item := cached.ItemMetadata
			return &item, nil
		}
	}

	return r.fetch(ctx, "get_by_gtin", gtin, func() (*models.ItemMetadata, error) {
		return r.remote.GetByGTIN(ctx, gtin)
	})
}

func (r *LocalFirst) fetch(ctx context.Context, op, key string, call func() (*models.ItemMetadata, error)) (*models.ItemMetadata, error) {
	item, err := call()
	if errors.Is(err, provider.ErrNotFound) {
		r.logger.Debug().Err(err).Str("op", op).Str("key", key).Msg("item unknown to every source")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, key, err)
	}
	if item == nil {
		return nil, nil
	}
	r.persist(ctx, *item)
	return item, nil
}

// persist writes the conflict-resolved record back. Failures never reach the caller.
func (r *LocalFirst) persist(ctx context.Context, incoming models.ItemMetadata) {
	if r.store == nil {
		return
	}
	if err := incoming.Validate(); err != nil {
		r.logger.Debug().Str("item", incoming.ItemNumber).Msg("not caching incomplete record")
		return
	}
	if incoming.Source == "" {
		incoming.Source = r.remote.Name()
	}
	if incoming.LastVerified.IsZero() {
		incoming.LastVerified = r.clock.Now()
	}

	winner := incoming
	existing, err := r.store.GetItem(ctx, incoming.ItemNumber)
	if err != nil {
		r.logger.Warn().Err(err).Str("item", incoming.ItemNumber).Msg("read before cache write failed")
	} else if existing != nil {
		winner = conflict.Resolve(existing.ItemMetadata, incoming)
	}

	score := conflict.QualityScore(winner)
	if err := r.store.UpsertItem(ctx, winner, score); err != nil {
		r.logger.Warn().Err(err).Str("item", winner.ItemNumber).Msg("缓存写入失败，已忽略")
		return
	}
	r.logger.Debug().Str("item", winner.ItemNumber).Str("source", winner.Source).Int("quality", score).Msg("cached catalog record")
}
