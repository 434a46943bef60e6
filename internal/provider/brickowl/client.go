// Package brickowl adapts the Brick Owl marketplace API as a price source.
// Live listings are condensed into one observation per condition.
package brickowl

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/ratelimit"
)

// SourceName labels records and limiter queues.
const SourceName = "brickowl"

const defaultBaseURL = "https://api.brickowl.com/v1"

// Options configure the adapter.
type Options struct {
	APIKey   string
	BaseURL  string
	Country  string
	Currency string
	Timeout  time.Duration
	Clock    clock.Clock
	// Limiter meters the id lookup and the availability request separately.
	Limiter *ratelimit.Limiter
}

// Client implements the price capability.
type Client struct {
	opts    Options
	http    *resty.Client
	clock   clock.Clock
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// New constructs the adapter.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &provider.ConfigurationError{Capability: SourceName, Reason: provider.ErrMissingCredentials.Error()}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Country == "" {
		opts.Country = "US"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	httpClient := provider.NewRestClient(opts.BaseURL, opts.Timeout)
	httpClient.SetQueryParam("key", opts.APIKey)

	return &Client{
		opts:    opts,
		http:    httpClient,
		clock:   clk,
		limiter: opts.Limiter,
		logger:  logger.With().Str("component", "source").Str("source", SourceName).Logger(),
	}, nil
}

// Name returns the source label.
func (c *Client) Name() string { return SourceName }

// LimitsOwnRequests reports whether every HTTP request already passes the limiter.
func (c *Client) LimitsOwnRequests() bool { return c.limiter != nil }

// get issues one GET, counted as one request against the source limits.
func (c *Client) get(ctx context.Context, path string, params map[string]string) (*resty.Response, error) {
	call := func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
	}
	if c.limiter == nil {
		return call(ctx)
	}
	return ratelimit.Do(ctx, c.limiter, SourceName, call)
}

type lookupResponse struct {
	BOIDs []string `json:"boids"`
}

type listing struct {
	Condition string `json:"con"`
	Price     string `json:"price"`
	Quantity  string `json:"qty"`
}

// GetPrices returns the aggregated listing price for one condition.
func (c *Client) GetPrices(ctx context.Context, itemNumber string, condition models.Condition) ([]models.PriceObservation, error) {
	all, err := c.RefreshPrices(ctx, itemNumber)
	if err != nil {
		return nil, err
	}
	out := make([]models.PriceObservation, 0, 1)
	for _, obs := range all {
		if obs.Condition == condition {
			out = append(out, obs)
		}
	}
	return out, nil
}

// RefreshPrices resolves the catalog id and summarises current listings.
func (c *Client) RefreshPrices(ctx context.Context, itemNumber string) ([]models.PriceObservation, error) {
	number := provider.NormalizeItemNumber(itemNumber)
	boid, err := c.lookupBOID(ctx, number)
	if err != nil || boid == "" {
		return nil, err
	}

	resp, err := c.get(ctx, "/catalog/availability", map[string]string{"boid": boid, "country": c.opts.Country})
	found, err := provider.CheckResponse(SourceName, "availability", resp, err)
	if err != nil || !found {
		return nil, err
	}

	listings := map[string]listing{}
	if err := json.Unmarshal(resp.Body(), &listings); err != nil {
		return nil, provider.DecodeError(SourceName, "availability", err)
	}

	prices := map[models.Condition][]decimal.Decimal{}
	for _, l := range listings {
		cond, ok := mapCondition(l.Condition)
		if !ok {
			continue
		}
		p, err := decimal.NewFromString(strings.TrimSpace(l.Price))
		if err != nil || !p.IsPositive() {
			continue
		}
		prices[cond] = append(prices[cond], p.Shift(2))
	}

	now := c.clock.Now()
	var out []models.PriceObservation
	for _, cond := range models.Conditions {
		values := prices[cond]
		if len(values) == 0 {
			continue
		}
		mean, variance, lo, hi := summarise(values)
		out = append(out, models.PriceObservation{
			ItemID:     number,
			Condition:  cond,
			Source:     SourceName,
			PriceCents: mean.Round(0).IntPart(),
			Currency:   c.opts.Currency,
			Timestamp:  now,
			SampleSize: len(values),
			Variance:   &variance,
			Metadata: map[string]any{
				"boid":      boid,
				"kind":      "listings",
				"min_cents": lo.IntPart(),
				"max_cents": hi.IntPart(),
			},
		})
	}

	c.logger.Debug().Str("item", number).Int("listings", len(listings)).Int("observations", len(out)).Msg("summarised listings")
	return out, nil
}

func (c *Client) lookupBOID(ctx context.Context, number string) (string, error) {
	resp, err := c.get(ctx, "/catalog/id_lookup", map[string]string{"id": number, "type": "Set"})
	found, err := provider.CheckResponse(SourceName, "id_lookup", resp, err)
	if err != nil || !found {
		return "", err
	}
	var out lookupResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", provider.DecodeError(SourceName, "id_lookup", err)
	}
	if len(out.BOIDs) == 0 {
		return "", nil
	}
	return out.BOIDs[0], nil
}

func mapCondition(con string) (models.Condition, bool) {
	con = strings.ToLower(strings.TrimSpace(con))
	switch {
	case strings.HasPrefix(con, "new"):
		return models.ConditionSealed, true
	case strings.HasPrefix(con, "used"):
		return models.ConditionUsed, true
	default:
		return "", false
	}
}

// summarise returns mean, population variance, min and max of cent values.
func summarise(values []decimal.Decimal) (decimal.Decimal, float64, decimal.Decimal, decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(values)))
	sum := decimal.Zero
	lo, hi := values[0], values[0]
	for _, v := range values {
		sum = sum.Add(v)
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
	}
	mean := sum.Div(n)

	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	return mean, sq.Div(n).InexactFloat64(), lo, hi
}

var (
	_ provider.PriceProvider = (*Client)(nil)
	_ provider.SelfLimited   = (*Client)(nil)
)
