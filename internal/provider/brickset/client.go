// Package brickset adapts the Brickset v3 API for catalog lookups.
package brickset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
const SourceName = "brickset"

const (
	defaultBaseURL  = "https://brickset.com/api/v3.asmx"
	defaultPageSize = 20
)

// Options configure the adapter.
type Options struct {
	APIKey   string
	BaseURL  string
	PageSize int
	Timeout  time.Duration
	Clock    clock.Clock
}

// Client implements the catalog capability.
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
		opts.PageSize = defaultPageSize
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Client{
		opts:   opts,
		http:   provider.NewRestClient(opts.BaseURL, opts.Timeout),
		clock:  clk,
		logger: logger.With().Str("component", "source").Str("source", SourceName).Logger(),
	}, nil
}

// Name returns the source label.
func (c *Client) Name() string { return SourceName }

type getSetsResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Matches int      `json:"matches"`
	Sets    []setDTO `json:"sets"`
}

type setDTO struct {
	SetID         int    `json:"setID"`
	Number        string `json:"number"`
	NumberVariant int    `json:"numberVariant"`
	Name          string `json:"name"`
	Year          int    `json:"year"`
	Theme         string `json:"theme"`
	Subtheme      string `json:"subtheme"`
	Pieces        int    `json:"pieces"`
	Image         struct {
		ImageURL string `json:"imageURL"`
	} `json:"image"`
	Barcode struct {
		EAN string `json:"EAN"`
		UPC string `json:"UPC"`
	} `json:"barcode"`
	LEGOCom struct {
		US struct {
			RetailPrice        float64 `json:"retailPrice"`
			DateFirstAvailable string  `json:"dateFirstAvailable"`
			DateLastAvailable  string  `json:"dateLastAvailable"`
		} `json:"US"`
	} `json:"LEGOCom"`
}

// SearchItems runs a free-text query.
func (c *Client) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	sets, err := c.getSets(ctx, map[string]any{"query": query, "pageSize": c.opts.PageSize})
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	items := make([]models.ItemMetadata, 0, len(sets))
	for _, s := range sets {
		items = append(items, s.toItem(now))
	}
	return items, nil
}

// GetByNumber fetches a set by its number-variant.
func (c *Client) GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error) {
	sets, err := c.getSets(ctx, map[string]any{"setNumber": provider.NormalizeItemNumber(itemNumber)})
	if err != nil || len(sets) == 0 {
		return nil, err
	}
	item := sets[0].toItem(c.clock.Now())
	return &item, nil
}

// GetByGTIN searches with the barcode and keeps the set whose EAN or UPC matches exactly.
func (c *Client) GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error) {
	gtin = strings.TrimSpace(gtin)
	if gtin == "" {
		return nil, nil
	}
	sets, err := c.getSets(ctx, map[string]any{"query": gtin, "pageSize": c.opts.PageSize})
	if err != nil {
		return nil, err
	}
	for _, s := range sets {
		if sameBarcode(s.Barcode.EAN, gtin) || sameBarcode(s.Barcode.UPC, gtin) {
			item := s.toItem(c.clock.Now())
			return &item, nil
		}
	}
	return nil, nil
}

func (c *Client) getSets(ctx context.Context, params map[string]any) ([]setDTO, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode brickset params: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apiKey":   c.opts.APIKey,
			"userHash": "",
			"params":   string(encoded),
		}).
		Get("/getSets")
	found, err := provider.CheckResponse(SourceName, "getSets", resp, err)
	if err != nil || !found {
		return nil, err
	}

	var out getSetsResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, provider.DecodeError(SourceName, "getSets", err)
	}
	if !strings.EqualFold(out.Status, "success") {
		msg := out.Message
		if msg == "" {
			msg = "status " + out.Status
		}
		return nil, &provider.AdapterError{Source: SourceName, Op: "getSets", StatusCode: resp.StatusCode(), Err: errors.New(msg)}
	}
	c.logger.Debug().Int("matches", out.Matches).Msg("getSets completed")
	return out.Sets, nil
}

func (s setDTO) itemNumber() string {
	variant := s.NumberVariant
	if variant <= 0 {
		variant = 1
	}
	return s.Number + "-" + strconv.Itoa(variant)
}

func (s setDTO) toItem(now time.Time) models.ItemMetadata {
	number := s.itemNumber()
	item := models.ItemMetadata{
		ItemNumber:   number,
		Name:         s.Name,
		Category:     s.Theme,
		Year:         s.Year,
		PieceCount:   s.Pieces,
		ImageURL:     s.Image.ImageURL,
		ExternalIDs:  map[string]string{SourceName: strconv.Itoa(s.SetID)},
		Source:       SourceName,
		LastVerified: now,
	}
	if s.Subtheme != "" && s.Theme != "" {
		item.Category = s.Theme + " / " + s.Subtheme
	}
	if s.LEGOCom.US.RetailPrice > 0 {
		item.MSRPCents = provider.DollarsToCents(s.LEGOCom.US.RetailPrice)
	}
	if s.LEGOCom.US.DateFirstAvailable != "" || s.LEGOCom.US.DateLastAvailable != "" {
		item.Retired = models.BoolPtr(s.LEGOCom.US.DateLastAvailable != "")
	}
	switch {
	case s.Barcode.UPC != "":
		item.GTIN = s.Barcode.UPC
	case s.Barcode.EAN != "":
		item.GTIN = s.Barcode.EAN
	}
	return item
}

// sameBarcode compares codes ignoring leading zeros, so UPC-A matches its EAN-13 form.
func sameBarcode(a, b string) bool {
	a = strings.TrimLeft(strings.TrimSpace(a), "0")
	b = strings.TrimLeft(strings.TrimSpace(b), "0")
	return a != "" && a == b
}

var _ provider.CatalogProvider = (*Client)(nil)
