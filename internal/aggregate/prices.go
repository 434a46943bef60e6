package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

// Prices merges observations from several price providers.
type Prices struct {
	providers []provider.PriceProvider
	logger    zerolog.Logger
}

// NewPrices fails when no provider is configured.
func NewPrices(providers []provider.PriceProvider, logger zerolog.Logger) (*Prices, error) {
	if len(providers) == 0 {
		return nil, &provider.ConfigurationError{Capability: "price"}
	}
	return &Prices{
		providers: providers,
		logger:    logger.With().Str("component", "price_aggregator").Logger(),
	}, nil
}

// Name labels the composite.
func (p *Prices) Name() string { return "composite" }

// GetPrices collects one condition from every provider.
func (p *Prices) GetPrices(ctx context.Context, itemNumber string, condition models.Condition) ([]models.PriceObservation, error) {
	return p.collect(ctx, "get_prices", itemNumber, func(pp provider.PriceProvider) ([]models.PriceObservation, error) {
		return pp.GetPrices(ctx, itemNumber, condition)
	})
}

// RefreshPrices collects every condition from every provider.
func (p *Prices) RefreshPrices(ctx context.Context, itemNumber string) ([]models.PriceObservation, error) {
	return p.collect(ctx, "refresh_prices", itemNumber, func(pp provider.PriceProvider) ([]models.PriceObservation, error) {
		return pp.RefreshPrices(ctx, itemNumber)
	})
}

type priceResult struct {
	obs []models.PriceObservation
	err error
}

func (p *Prices) collect(ctx context.Context, op, itemNumber string, call func(provider.PriceProvider) ([]models.PriceObservation, error)) ([]models.PriceObservation, error) {
	results := make([]priceResult, len(p.providers))
	var wg sync.WaitGroup
	for i, pp := range p.providers {
		wg.Add(1)
		go func(i int, pp provider.PriceProvider) {
			defer wg.Done()
			obs, err := call(pp)
			results[i] = priceResult{obs: obs, err: err}
		}(i, pp)
	}
	wg.Wait()

	var errs []error
	var all []models.PriceObservation
	for i, res := range results {
		if res.err != nil {
			p.logger.Warn().Err(res.err).Str("source", p.providers[i].Name()).Str("item", itemNumber).Msg("price fetch failed; skipping source")
			errs = append(errs, res.err)
			continue
		}
		all = append(all, res.obs...)
	}
	if len(errs) == len(p.providers) {
		return nil, fmt.Errorf("%s %s: %w", op, itemNumber, errors.Join(errs...))
	}
	return DedupeObservations(all), nil
}

type hourKey struct {
	condition models.Condition
	hour      int64
}

// DedupeObservations keeps one observation per condition and clock hour. On collision
// the larger sample size wins, then the newer timestamp. Output is sorted by time.
func DedupeObservations(obs []models.PriceObservation) []models.PriceObservation {
	best := make(map[hourKey]models.PriceObservation, len(obs))
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			continue
		}
		key := hourKey{condition: o.Condition, hour: o.Timestamp.UTC().Truncate(time.Hour).Unix()}
		cur, ok := best[key]
		if !ok || preferred(o, cur) {
			best[key] = o
		}
	}

	out := make([]models.PriceObservation, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].Condition != out[j].Condition {
			return out[i].Condition < out[j].Condition
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func preferred(candidate, current models.PriceObservation) bool {
	if candidate.SampleSize != current.SampleSize {
		return candidate.SampleSize > current.SampleSize
	}
	return candidate.Timestamp.After(current.Timestamp)
}

var _ provider.PriceProvider = (*Prices)(nil)
