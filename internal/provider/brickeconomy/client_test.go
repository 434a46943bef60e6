package brickeconomy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		APIKey:  "secret",
		BaseURL: srv.URL,
		Timeout: time.Second,
		Clock:   clock.NewFake(time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("缺少 api key 应返回 ConfigurationError, 实际 %v", err)
	}
}

func TestGetByNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apikey") != "secret" {
			t.Fatalf("missing api key header")
		}
		if r.URL.Path != "/set/75192-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"set_number":      "75192-1",
			"name":            "Millennium Falcon",
			"theme":           "Star Wars",
			"subtheme":        "Ultimate Collector Series",
			"year":            2017,
			"pieces_count":    7541,
			"retail_price_us": 799.99,
			"retired":         false,
			"upc":             "673419267472",
		}})
	})

	item, err := c.GetByNumber(context.Background(), "75192")
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if item == nil || item.Name != "Millennium Falcon" || item.MSRPCents != 79999 {
		t.Fatalf("unexpected item: %#v", item)
	}
	if item.Category != "Star Wars / Ultimate Collector Series" || item.GTIN != "673419267472" {
		t.Fatalf("fields not normalised: %#v", item)
	}
	if item.Retired == nil || *item.Retired {
		t.Fatalf("retired flag should be reported false")
	}
}

func TestGetByNumberNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	item, err := c.GetByNumber(context.Background(), "0000-1")
	if err != nil || item != nil {
		t.Fatalf("404 should be a clean miss, got %v %v", item, err)
	}
}

func TestRefreshPricesBothConditions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"set_number":         "10276-1",
			"name":               "Colosseum",
			"current_value_new":  612.5,
			"current_value_used": 455.01,
			"currency":           "USD",
		}})
	})

	obs, err := c.RefreshPrices(context.Background(), "10276-1")
	if err != nil {
		t.Fatalf("RefreshPrices: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if obs[0].Condition != models.ConditionSealed || obs[0].PriceCents != 61250 {
		t.Fatalf("sealed observation wrong: %#v", obs[0])
	}
	if obs[1].Condition != models.ConditionUsed || obs[1].PriceCents != 45501 {
		t.Fatalf("used observation wrong: %#v", obs[1])
	}

	used, err := c.GetPrices(context.Background(), "10276-1", models.ConditionUsed)
	if err != nil || len(used) != 1 || used[0].Condition != models.ConditionUsed {
		t.Fatalf("GetPrices should filter by condition: %v %#v", err, used)
	}
}

func TestServerErrorIsAdapterError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	})
	_, err := c.SearchItems(context.Background(), "falcon")
	var ae *provider.AdapterError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected AdapterError with 429, got %v", err)
	}
}

func TestMalformedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [`))
	})
	if _, err := c.GetByNumber(context.Background(), "1-1"); err == nil {
		t.Fatal("malformed payload should error")
	}
}
