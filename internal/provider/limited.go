package provider

import (
	"context"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/ratelimit"
)

// LimitedCatalog routes every call of a catalog source through the rate limiter.
type LimitedCatalog struct {
	inner   CatalogProvider
	limiter *ratelimit.Limiter
}

// LimitedPrice routes every call of a price source through the rate limiter.
type LimitedPrice struct {
	inner   PriceProvider
	limiter *ratelimit.Limiter
}

// SelfLimited is implemented by sources that issue several requests per call and
// route each of them through the limiter on their own. Wrapping such a source again
// would count one slot for many requests and deadlock on its own queue.
type SelfLimited interface {
	LimitsOwnRequests() bool
}

func selfLimited(p any) bool {
	s, ok := p.(SelfLimited)
	return ok && s.LimitsOwnRequests()
}

// WithLimiter wraps a catalog provider. A nil limiter or a self-limited source returns p unchanged.
func WithLimiter(p CatalogProvider, limiter *ratelimit.Limiter) CatalogProvider {
	if limiter == nil || selfLimited(p) {
		return p
	}
	return &LimitedCatalog{inner: p, limiter: limiter}
}

// WithPriceLimiter wraps a price provider. A nil limiter or a self-limited source returns p unchanged.
func WithPriceLimiter(p PriceProvider, limiter *ratelimit.Limiter) PriceProvider {
	if limiter == nil || selfLimited(p) {
		return p
	}
	return &LimitedPrice{inner: p, limiter: limiter}
}

func (c *LimitedCatalog) Name() string { return c.inner.Name() }

func (c *LimitedCatalog) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	return ratelimit.Do(ctx, c.limiter, c.inner.Name(), func(ctx context.Context) ([]models.ItemMetadata, error) {
		return c.inner.SearchItems(ctx, query)
	})
}

func (c *LimitedCatalog) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	return ratelimit.Do(ctx, c.limiter, c.inner.Name(), func(ctx context.Context) (*models.ItemMetadata, error) {
		return c.inner.GetByNumber(ctx, itemNumber)
	})
}

func (c *LimitedCatalog) GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error) {
	return ratelimit.Do(ctx, c.limiter, c.inner.Name(), func(ctx context.Context) (*models.ItemMetadata, error) {
		return c.inner.GetByGTIN(ctx, gtin)
	})
}

func (p *LimitedPrice) Name() string { return p.inner.Name() }

func (p *LimitedPrice) GetPrices(ctx context.Context, itemNumber string, condition models.Condition) ([]models.PriceObservation, error) {
	return ratelimit.Do(ctx, p.limiter, p.inner.Name(), func(ctx context.Context) ([]models.PriceObservation, error) {
		return p.inner.GetPrices(ctx, itemNumber, condition)
	})
}

func (p *LimitedPrice) RefreshPrices(ctx context.Context, itemNumber string) ([]models.PriceObservation, error) {
	return ratelimit.Do(ctx, p.limiter, p.inner.Name(), func(ctx context.Context) ([]models.PriceObservation, error) {
		return p.inner.RefreshPrices(ctx, itemNumber)
	})
}

var (
	_ CatalogProvider = (*LimitedCatalog)(nil)
	_ PriceProvider   = (*LimitedPrice)(nil)
)
