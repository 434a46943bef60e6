package brickset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func falconSet() map[string]any {
	return map[string]any{
		"setID":         26725,
		"number":        "75192",
		"numberVariant": 1,
		"name":          "Millennium Falcon",
		"year":          2017,
		"theme":         "Star Wars",
		"pieces":        7541,
		"image":         map[string]any{"imageURL": "https://images.brickset.com/sets/images/75192-1.jpg"},
		"barcode":       map[string]any{"EAN": "5702015869935", "UPC": "673419267472"},
		"LEGOCom": map[string]any{"US": map[string]any{
			"retailPrice":        849.99,
			"dateFirstAvailable": "2017-09-14T00:00:00Z",
			"dateLastAvailable":  "2023-12-31T00:00:00Z",
		}},
	}
}

func TestGetByNumberSendsParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getSets" || r.URL.Query().Get("apiKey") != "k" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("params")), &params); err != nil {
			t.Fatalf("params not json: %v", err)
		}
		if params["setNumber"] != "75192-1" {
			t.Fatalf("setNumber param = %v", params["setNumber"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "matches": 1, "sets": []any{falconSet()}})
	})

	item, err := c.GetByNumber(context.Background(), "75192")
	if err != nil || item == nil {
		t.Fatalf("GetByNumber: %v %v", item, err)
	}
	if item.ItemNumber != "75192-1" || item.ExternalIDs[SourceName] != "26725" {
		t.Fatalf("identifiers wrong: %#v", item)
	}
	if item.Retired == nil || !*item.Retired {
		t.Fatal("a last-available date marks the set retired")
	}
	if item.MSRPCents != 84999 || item.GTIN != "673419267472" {
		t.Fatalf("msrp/gtin wrong: %#v", item)
	}
}

func TestGetByGTINMatchesBarcode(t *testing.T) {
	other := falconSet()
	other["setID"] = 1
	other["number"] = "75257"
	other["barcode"] = map[string]any{"EAN": "5702016370997"}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "sets": []any{other, falconSet()}})
	})

	item, err := c.GetByGTIN(context.Background(), "0673419267472")
	if err != nil || item == nil {
		t.Fatalf("GetByGTIN: %v %v", item, err)
	}
	if item.ItemNumber != "75192-1" {
		t.Fatalf("matched wrong set %s", item.ItemNumber)
	}

	miss, err := c.GetByGTIN(context.Background(), "123")
	if err != nil || miss != nil {
		t.Fatalf("non matching barcode should miss: %v %v", miss, err)
	}
}

func TestStatusErrorIsAdapterError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "Invalid API key"})
	})
	_, err := c.SearchItems(context.Background(), "castle")
	var ae *provider.AdapterError
	if !errors.As(err, &ae) || ae.Source != SourceName {
		t.Fatalf("expected AdapterError, got %v", err)
	}
}

func TestSearchItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "matches": 1, "sets": []any{falconSet()}})
	})
	items, err := c.SearchItems(context.Background(), "falcon")
	if err != nil || len(items) != 1 {
		t.Fatalf("search: %v %d", err, len(items))
	}
}
