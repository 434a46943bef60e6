// Package brickeconomy adapts the BrickEconomy API, a catalog and valuation source
// with tight request limits.
package brickeconomy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

// SourceName labels records and limiter queues.
const SourceName = "brickeconomy"

const defaultBaseURL = "https://www.brickeconomy.com/api/v1"

// Options configure the adapter.
type Options struct {
	APIKey   string
	BaseURL  string
	Currency string
	Timeout  time.Duration
	Clock    clock.Clock
}

// Client implements both catalog and price capabilities.
type Client struct {
	opts   Options
	http   *resty.Client
	clock  clock.Clock
	logger zerolog.Logger
}

// New constructs the adapter. A missing API key is a configuration problem.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &provider.ConfigurationError{Capability: SourceName, Reason: provider.ErrMissingCredentials.Error()}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	httpClient := provider.NewRestClient(opts.BaseURL, opts.Timeout)
	httpClient.SetHeader("x-apikey", opts.APIKey)

	return &Client{
		opts:   opts,
		http:   httpClient,
		clock:  clk,
		logger: logger.With().Str("component", "source").Str("source", SourceName).Logger(),
	}, nil
}

// Name returns the source label.
func (c *Client) Name() string { return SourceName }

type setPayload struct {
	SetNumber        string   `json:"set_number"`
	Name             string   `json:"name"`
	Theme            string   `json:"theme"`
	Subtheme         string   `json:"subtheme"`
	Year             int      `json:"year"`
	PiecesCount      int      `json:"pieces_count"`
	RetailPriceUS    float64  `json:"retail_price_us"`
	Retired          *bool    `json:"retired"`
	UPC              string   `json:"upc"`
	EAN              string   `json:"ean"`
	ImageURL         string   `json:"image"`
	CurrentValueNew  *float64 `json:"current_value_new"`
	CurrentValueUsed *float64 `json:"current_value_used"`
	Currency         string   `json:"currency"`
}

type setEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type searchPayload struct {
	Results []setPayload `json:"results"`
}

// SearchItems runs a free-text set search.
func (c *Client) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		Get("/search")
	found, err := provider.CheckResponse(SourceName, "search", resp, err)
	if err != nil || !found {
		return nil, err
	}

	var env setEnvelope
	var payload searchPayload
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, provider.DecodeError(SourceName, "search", err)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, provider.DecodeError(SourceName, "search", err)
		}
	}

	now := c.clock.Now()
	items := make([]models.ItemMetadata, 0, len(payload.Results))
	for _, set := range payload.Results {
		items = append(items, set.toItem(now))
	}
	return items, nil
}

// GetByNumber fetches one set.
func (c *Client) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	set, err := c.fetchSet(ctx, itemNumber)
	if err != nil || set == nil {
		return nil, err
	}
	item := set.toItem(c.clock.Now())
	return &item, nil
}

// GetByGTIN is not offered by this source; the miss lets the aggregator move on.
func (c *Client) GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error) {
	return nil, nil
}

// GetPrices returns the current valuation for one condition.
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

// RefreshPrices returns the current sealed and used valuations.
func (c *Client) RefreshPrices(ctx context.Context, itemNumber string) ([]models.PriceObservation, error) {
	set, err := c.fetchSet(ctx, itemNumber)
	if err != nil || set == nil {
		return nil, err
	}

	now := c.clock.Now()
	currency := set.Currency
	if currency == "" {
		currency = c.opts.Currency
	}

	var out []models.PriceObservation
	add := func(cond models.Condition, v *float64) {
		if v == nil || *v <= 0 {
			return
		}
		out = append(out, models.PriceObservation{
			ItemID:     provider.NormalizeItemNumber(itemNumber),
			Condition:  cond,
			Source:     SourceName,
			PriceCents: provider.DollarsToCents(*v),
			Currency:   currency,
			Timestamp:  now,
			Metadata:   map[string]any{"kind": "valuation"},
		})
	}
	add(models.ConditionSealed, set.CurrentValueNew)
	add(models.ConditionUsed, set.CurrentValueUsed)

	c.logger.Debug().Str("item", itemNumber).Int("observations", len(out)).Msg("fetched valuation")
	return out, nil
}

func (c *Client) fetchSet(ctx context.Context, itemNumber string) (*setPayload, error) {
	number := provider.NormalizeItemNumber(itemNumber)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("currency", c.opts.Currency).
		Get("/set/" + url.PathEscape(number))
	found, err := provider.CheckResponse(SourceName, "set", resp, err)
	if err != nil || !found {
		return nil, err
	}

	var env setEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, provider.DecodeError(SourceName, "set", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var set setPayload
	if err := json.Unmarshal(env.Data, &set); err != nil {
		return nil, provider.DecodeError(SourceName, "set", err)
	}
	if set.SetNumber == "" {
		return nil, provider.DecodeError(SourceName, "set", fmt.Errorf("set %s missing set_number", number))
	}
	return &set, nil
}

func (s setPayload) toItem(now time.Time) models.ItemMetadata {
	item := models.ItemMetadata{
		ItemNumber:   s.SetNumber,
		Name:         s.Name,
		Category:     joinCategory(s.Theme, s.Subtheme),
		Year:         s.Year,
		PieceCount:   s.PiecesCount,
		ImageURL:     s.ImageURL,
		Retired:      s.Retired,
		ExternalIDs:  map[string]string{SourceName: s.SetNumber},
		Source:       SourceName,
		LastVerified: now,
	}
	if s.RetailPriceUS > 0 {
		item.MSRPCents = provider.DollarsToCents(s.RetailPriceUS)
	}
	switch {
	case s.UPC != "":
		item.GTIN = s.UPC
	case s.EAN != "":
		item.GTIN = s.EAN
	}
	return item
}

func joinCategory(theme, subtheme string) string {
	if subtheme == "" {
		return theme
	}
	if theme == "" {
		return subtheme
	}
	return theme + " / " + subtheme
}

var (
	_ provider.CatalogProvider = (*Client)(nil)
	_ provider.PriceProvider   = (*Client)(nil)
)
