// Package rebrickable adapts the Rebrickable catalog API.
package rebrickable

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

// SourceName labels records and limiter queues.
const SourceName = "rebrickable"

const defaultBaseURL = "https://rebrickable.com/api/v3/lego"

// Options configure the adapter.
type Options struct {
	APIKey   string
	BaseURL  string
	PageSize int
	Timeout  time.Duration
	Clock    clock.Clock
}

// Client implements the catalog capability. Rebrickable has no barcode index.
type Client struct {
	opts   Options
	http   *resty.Client
	clock  clock.Clock
	logger zerolog.Logger
}

// New constructs the adapter.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &provider.ConfigurationError{Capability: SourceName, Reason: provider.ErrMissingCredentials.Error()}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	httpClient := provider.NewRestClient(opts.BaseURL, opts.Timeout)
	httpClient.SetHeader("Authorization", "key "+opts.APIKey)

	return &Client{
		opts:   opts,
		http:   httpClient,
		clock:  clk,
		logger: logger.With().Str("component", "source").Str("source", SourceName).Logger(),
	}, nil
}

// Name returns the source label.
func (c *Client) Name() string { return SourceName }

type setDTO struct {
	SetNum   string `json:"set_num"`
	Name     string `json:"name"`
	Year     int    `json:"year"`
	ThemeID  int    `json:"theme_id"`
	NumParts int    `json:"num_parts"`
	ImgURL   string `json:"set_img_url"`
	SetURL   string `json:"set_url"`
}

type listResponse struct {
	Count   int      `json:"count"`
	Next    *string  `json:"next"`
	Results []setDTO `json:"results"`
}

// SearchItems runs a free-text search over set names and numbers.
func (c *Client) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"search":    query,
			"page_size": strconv.Itoa(c.opts.PageSize),
		}).
		Get("/sets/")
	found, err := provider.CheckResponse(SourceName, "sets", resp, err)
	if err != nil || !found {
		return nil, err
	}

	var out listResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, provider.DecodeError(SourceName, "sets", err)
	}

	now := c.clock.Now()
	items := make([]models.ItemMetadata, 0, len(out.Results))
	for _, s := range out.Results {
		items = append(items, s.toItem(now))
	}
	return items, nil
}

// GetByNumber fetches one set.
func (c *Client) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	number := provider.NormalizeItemNumber(itemNumber)
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/sets/" + url.PathEscape(number) + "/")
	found, err := provider.CheckResponse(SourceName, "set", resp, err)
	if err != nil || !found {
		return nil, err
	}

	var s setDTO
	if err := json.Unmarshal(resp.Body(), &s); err != nil {
		return nil, provider.DecodeError(SourceName, "set", err)
	}
	if s.SetNum == "" {
		return nil, nil
	}
	item := s.toItem(c.clock.Now())
	return &item, nil
}

// GetByGTIN always misses.
func (c *Client) GetByGTIN(context.Context, string) (*models.ItemMetadata, error) {
	return nil, nil
}

func (s setDTO) toItem(now time.Time) models.ItemMetadata {
	item := models.ItemMetadata{
		ItemNumber:   s.SetNum,
		Name:         s.Name,
		Year:         s.Year,
		PieceCount:   s.NumParts,
		ImageURL:     s.ImgURL,
		ExternalIDs:  map[string]string{SourceName: s.SetNum},
		Source:       SourceName,
		LastVerified: now,
	}
	if s.ThemeID > 0 {
		item.ExternalIDs[SourceName+"_theme"] = strconv.Itoa(s.ThemeID)
	}
	return item
}

var _ provider.CatalogProvider = (*Client)(nil)
