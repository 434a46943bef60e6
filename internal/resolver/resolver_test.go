package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/conflict"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/storage"
)

type fakeRemote struct {
	items   map[string]models.ItemMetadata
	calls   int
	failAll bool
}

func (f *fakeRemote) Name() string { return "composite" }

func (f *fakeRemote) SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error) {
	f.calls++
	if f.failAll {
		return nil, errors.New("sources down")
	}
	out := make([]models.ItemMetadata, 0)
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeRemote) GetByNumber(ctx context.Context, n string) (*models.ItemMetadata, error) {
	f.calls++
	if f.failAll {
		return nil, errors.New("sources down")
	}
	it, ok := f.items[n]
	if !ok {
		return nil, fmt.Errorf("get_by_number %s: %w", n, provider.ErrNotFound)
	}
	return &it, nil
}

func (f *fakeRemote) GetByGTIN(ctx context.Context, g string) (*models.ItemMetadata, error) {
	f.calls++
	for _, it := range f.items {
		if it.GTIN == g {
			return &it, nil
		}
	}
	return nil, provider.ErrNotFound
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) GetItem(context.Context, string) (*storage.StoredItem, error) {
	return nil, errors.New("disk gone")
}
func (brokenStore) GetItemByGTIN(context.Context, string) (*storage.StoredItem, error) {
	return nil, errors.New("disk gone")
}
func (brokenStore) SearchItems(context.Context, string, int) ([]storage.StoredItem, error) {
	return nil, errors.New("disk gone")
}
func (brokenStore) UpsertItem(context.Context, models.ItemMetadata, int) error {
	return errors.New("disk gone")
}
func (brokenStore) ListItemNumbers(context.Context) ([]string, error) {
	return nil, errors.New("disk gone")
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func falcon() models.ItemMetadata {
	return models.ItemMetadata{
		ItemNumber: "75192-1",
		Name:       "Millennium Falcon",
		Category:   "Star Wars",
		Year:       2017,
		GTIN:       "673419267472",
		Source:     "brickset",
	}
}

func TestNewRequiresRemote(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestMissFetchesAndCaches(t *testing.T) {
	store := newStore(t)
	remote := &fakeRemote{items: map[string]models.ItemMetadata{"75192-1": falcon()}}
	r, err := New(Options{Store: store, Remote: remote, Clock: clock.NewFake(now)}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := r.GetByNumber(ctx, "75192-1")
	if err != nil || got == nil || got.Name != "Millennium Falcon" {
		t.Fatalf("first lookup: %v %v", got, err)
	}
	cached, _ := store.GetItem(ctx, "75192-1")
	if cached == nil {
		t.Fatal("record should be cached after a miss")
	}
	if cached.Quality != conflict.QualityScore(falcon()) || cached.Source != "brickset" {
		t.Fatalf("cached metadata wrong: quality=%d source=%s", cached.Quality, cached.Source)
	}
	if !cached.LastVerified.Equal(now) {
		t.Fatalf("last verified should default to clock: %s", cached.LastVerified)
	}

	if _, err := r.GetByNumber(ctx, "75192-1"); err != nil {
		t.Fatal(err)
	}
	if remote.calls != 1 {
		t.Fatalf("hit must not call sources, calls=%d", remote.calls)
	}

	byGTIN, err := r.GetByGTIN(ctx, "673419267472")
	if err != nil || byGTIN == nil || remote.calls != 1 {
		t.Fatalf("gtin should be served from cache: %v %v calls=%d", byGTIN, err, remote.calls)
	}
}

func TestUnknownItemIsNil(t *testing.T) {
	r, _ := New(Options{Store: newStore(t), Remote: &fakeRemote{}}, zerolog.Nop())
	got, err := r.GetByNumber(context.Background(), "0-1")
	if err != nil || got != nil {
		t.Fatalf("unknown item should be nil, nil: %v %v", got, err)
	}
}

func TestRemoteFailurePropagates(t *testing.T) {
	r, _ := New(Options{Store: newStore(t), Remote: &fakeRemote{failAll: true}}, zerolog.Nop())
	if _, err := r.GetByNumber(context.Background(), "1-1"); err == nil {
		t.Fatal("expected error when sources fail")
	}
}

func TestCacheWriteFailureDoesNotFailRead(t *testing.T) {
	remote := &fakeRemote{items: map[string]models.ItemMetadata{"75192-1": falcon()}}
	r, _ := New(Options{Store: brokenStore{}, Remote: remote}, zerolog.Nop())

	got, err := r.GetByNumber(context.Background(), "75192-1")
	if err != nil || got == nil {
		t.Fatalf("read path must survive a broken store: %v %v", got, err)
	}
	items, err := r.SearchItems(context.Background(), "falcon")
	if err != nil || len(items) != 1 {
		t.Fatalf("search should fall back to sources: %v %v", items, err)
	}
}

func TestConflictResolvedOnWrite(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rich := falcon()
	rich.ImageURL = "https://img/75192.jpg"
	rich.PieceCount = 7541
	if err := store.UpsertItem(ctx, rich, conflict.QualityScore(rich)); err != nil {
		t.Fatal(err)
	}

	poor := models.ItemMetadata{ItemNumber: "75192-1", Name: "Falcon", Source: "rebrickable"}
	remote := &fakeRemote{items: map[string]models.ItemMetadata{"75192-1": poor}}
	r, _ := New(Options{Store: store, Remote: remote}, zerolog.Nop())

	items, err := r.SearchItems(ctx, "nothing-local-matches")
	if err != nil || len(items) != 1 {
		t.Fatalf("search: %v %v", items, err)
	}
	if items[0].Name != "Falcon" {
		t.Fatal("caller should receive the freshly fetched record")
	}

	stored, _ := store.GetItem(ctx, "75192-1")
	if stored.Name != "Millennium Falcon" || stored.ImageURL == "" {
		t.Fatalf("less complete record must not overwrite: %#v", stored)
	}
}

func TestSearchServedLocally(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.UpsertItem(ctx, falcon(), 60); err != nil {
		t.Fatal(err)
	}
	remote := &fakeRemote{}
	r, _ := New(Options{Store: store, Remote: remote}, zerolog.Nop())

	items, err := r.SearchItems(ctx, "falcon")
	if err != nil || len(items) != 1 || remote.calls != 0 {
		t.Fatalf("local match should short-circuit: %v %v calls=%d", items, err, remote.calls)
	}
	if empty, _ := r.SearchItems(ctx, "  "); len(empty) != 0 {
		t.Fatal("blank query returns nothing")
	}
}
