package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
)

type fakeCatalog struct {
	name   string
	search []models.ItemMetadata
	byNum  map[string]*models.ItemMetadata
	err    error
	calls  int
}

func (f *fakeCatalog) Name() string { return f.name }

func (f *fakeCatalog) SearchItems(context.Context, string) ([]models.ItemMetadata, error) {
	f.calls++
	return f.search, f.err
}

func (f *fakeCatalog) GetByNumber(_ context.Context, n string) (*models.ItemMetadata, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byNum[n], nil
}

func (f *fakeCatalog) GetByGTIN(context.Context, string) (*models.ItemMetadata, error) {
	f.calls++
	return nil, f.err
}

type fakePrices struct {
	name string
	obs  []models.PriceObservation
	err  error
}

func (f *fakePrices) Name() string { return f.name }

func (f *fakePrices) GetPrices(_ context.Context, _ string, cond models.Condition) ([]models.PriceObservation, error) {
	var out []models.PriceObservation
	for _, o := range f.obs {
		if o.Condition == cond {
			out = append(out, o)
		}
	}
	return out, f.err
}

func (f *fakePrices) RefreshPrices(context.Context, string) ([]models.PriceObservation, error) {
	return f.obs, f.err
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewCatalogRequiresProviders(t *testing.T) {
	_, err := NewCatalog(nil, noopLogger())
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if _, err := NewPrices(nil, noopLogger()); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for prices, got %v", err)
	}
}

func TestGetByNumberFallsThroughNilResult(t *testing.T) {
	first := &fakeCatalog{name: "a"}
	second := &fakeCatalog{name: "b", byNum: map[string]*models.ItemMetadata{
		"75192-1": {ItemNumber: "75192-1", Name: "Falcon", Source: "b"},
	}}
	agg, err := NewCatalog([]provider.CatalogProvider{first, second}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	item, err := agg.GetByNumber(context.Background(), "75192-1")
	if err != nil {
		t.Fatalf("no error expected: %v", err)
	}
	if item == nil || item.Source != "b" {
		t.Fatalf("expected second adapter's record, got %#v", item)
	}
}

func TestGetByNumberStopsAtFirstHit(t *testing.T) {
	hit := &fakeCatalog{name: "a", byNum: map[string]*models.ItemMetadata{"1-1": {ItemNumber: "1-1", Name: "A"}}}
	later := &fakeCatalog{name: "b", byNum: map[string]*models.ItemMetadata{"1-1": {ItemNumber: "1-1", Name: "B"}}}
	agg, _ := NewCatalog([]provider.CatalogProvider{hit, later}, noopLogger())

	item, err := agg.GetByNumber(context.Background(), "1-1")
	if err != nil || item.Name != "A" {
		t.Fatalf("first hit should win: %v %v", item, err)
	}
	if later.calls != 0 {
		t.Fatal("later adapters must not be called after a hit")
	}
}

func TestGetByNumberAllMissOrFail(t *testing.T) {
	failing := &fakeCatalog{name: "a", err: errors.New("timeout")}
	empty := &fakeCatalog{name: "b"}
	agg, _ := NewCatalog([]provider.CatalogProvider{failing, empty}, noopLogger())

	_, err := agg.GetByNumber(context.Background(), "x-1")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := agg.GetByGTIN(context.Background(), "123"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for gtin, got %v", err)
	}
}

func TestSearchMergesAndDedupes(t *testing.T) {
	first := &fakeCatalog{name: "a", search: []models.ItemMetadata{
		{ItemNumber: "10276-1", Name: "Colosseum", Year: 2020, Retired: models.BoolPtr(false), ExternalIDs: map[string]string{"a": "1"}},
		{ItemNumber: "", Name: "broken"},
	}}
	second := &fakeCatalog{name: "b", search: []models.ItemMetadata{
		{ItemNumber: "10276-1", Name: "LEGO Colosseum", PieceCount: 9036, Retired: models.BoolPtr(true), ExternalIDs: map[string]string{"b": "2", "a": "x"}},
		{ItemNumber: "21058-1", Name: "Great Pyramid"},
	}}
	third := &fakeCatalog{name: "c", err: errors.New("down")}

	agg, _ := NewCatalog([]provider.CatalogProvider{first, second, third}, noopLogger())
	items, err := agg.SearchItems(context.Background(), "colosseum")
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 merged items, got %d", len(items))
	}

	col := items[0]
	if col.Name != "Colosseum" || col.Year != 2020 || col.PieceCount != 9036 {
		t.Fatalf("first non-empty value per field expected: %#v", col)
	}
	if col.Retired == nil || !*col.Retired {
		t.Fatal("retired flag should come from the latest reporter")
	}
	if col.ExternalIDs["a"] != "1" || col.ExternalIDs["b"] != "2" {
		t.Fatalf("external ids merged wrong: %v", col.ExternalIDs)
	}
	if first.search[0].ExternalIDs["b"] != "" {
		t.Fatal("adapter results must not be mutated")
	}
}

func TestSearchAllFailed(t *testing.T) {
	agg, _ := NewCatalog([]provider.CatalogProvider{
		&fakeCatalog{name: "a", err: errors.New("x")},
		&fakeCatalog{name: "b", err: errors.New("y")},
	}, noopLogger())
	if _, err := agg.SearchItems(context.Background(), "q"); err == nil {
		t.Fatal("every adapter failing should be an error")
	}
}

func TestPricesDedupeByHour(t *testing.T) {
	base := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	a := &fakePrices{name: "a", obs: []models.PriceObservation{
		{ItemID: "1-1", Condition: models.ConditionSealed, Source: "a", PriceCents: 1000, Timestamp: base.Add(10 * time.Minute), SampleSize: 3},
		{ItemID: "1-1", Condition: models.ConditionUsed, Source: "a", PriceCents: 700, Timestamp: base.Add(10 * time.Minute)},
	}}
	b := &fakePrices{name: "b", obs: []models.PriceObservation{
		{ItemID: "1-1", Condition: models.ConditionSealed, Source: "b", PriceCents: 1100, Timestamp: base.Add(40 * time.Minute), SampleSize: 5},
		{ItemID: "1-1", Condition: models.ConditionSealed, Source: "b", PriceCents: 1200, Timestamp: base.Add(2 * time.Hour), SampleSize: 1},
		{ItemID: "1-1", Condition: models.ConditionUsed, Source: "b", PriceCents: 650, Timestamp: base.Add(50 * time.Minute)},
	}}
	c := &fakePrices{name: "c", err: errors.New("quota")}

	agg, _ := NewPrices([]provider.PriceProvider{a, b, c}, noopLogger())
	obs, err := agg.RefreshPrices(context.Background(), "1-1")
	if err != nil {
		t.Fatalf("RefreshPrices: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations after dedupe, got %d: %#v", len(obs), obs)
	}

	var sealedHour, usedHour *models.PriceObservation
	for i := range obs {
		o := &obs[i]
		if o.Timestamp.Truncate(time.Hour).Equal(base) {
			if o.Condition == models.ConditionSealed {
				sealedHour = o
			} else {
				usedHour = o
			}
		}
	}
	if sealedHour == nil || sealedHour.PriceCents != 1100 {
		t.Fatalf("larger sample size should win: %#v", sealedHour)
	}
	if usedHour == nil || usedHour.PriceCents != 650 {
		t.Fatalf("equal sample size should keep newer observation: %#v", usedHour)
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].Timestamp.Before(obs[i-1].Timestamp) {
			t.Fatal("observations should be sorted by time")
		}
	}
}

func TestPricesAllFailed(t *testing.T) {
	agg, _ := NewPrices([]provider.PriceProvider{&fakePrices{name: "a", err: errors.New("x")}}, noopLogger())
	if _, err := agg.GetPrices(context.Background(), "1-1", models.ConditionSealed); err == nil {
		t.Fatal("sole failing adapter should surface its error")
	}
}

func TestCatalogSourcesKeepOrder(t *testing.T) {
	c, err := NewCatalog([]provider.CatalogProvider{
		&fakeCatalog{name: "brickset"},
		&fakeCatalog{name: "rebrickable"},
	}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}
	got := c.Sources()
	if len(got) != 2 || got[0] != "brickset" || got[1] != "rebrickable" {
		t.Fatalf("sources = %v", got)
	}
}
