package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/ratelimit"
)

type stubCatalog struct {
	calls int
}

func (s *stubCatalog) Name() string { return "stub" }

func (s *stubCatalog) SearchItems(context.Context, string) ([]models.ItemMetadata, error) {
	s.calls++
	return []models.ItemMetadata{{ItemNumber: "1", Name: "One"}}, nil
}

func (s *stubCatalog) GetByNumber(context.Context, string) (*models.ItemMetadata, error) {
	s.calls++
	return nil, nil
}

func (s *stubCatalog) GetByGTIN(context.Context, string) (*models.ItemMetadata, error) {
	s.calls++
	return nil, ErrUnsupported
}

func TestWithLimiterRoutesThroughSourceQuota(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Options{
		Sources: map[string]ratelimit.Limits{"stub": {RequestsPerDay: 2}},
		Clock:   clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, zerolog.Nop())

	inner := &stubCatalog{}
	p := WithLimiter(inner, limiter)

	if items, err := p.SearchItems(context.Background(), "x"); err != nil || len(items) != 1 {
		t.Fatalf("search through limiter failed: %v", err)
	}
	if item, err := p.GetByNumber(context.Background(), "1"); err != nil || item != nil {
		t.Fatalf("miss should stay nil, nil: %v %v", item, err)
	}
	if _, err := p.GetByGTIN(context.Background(), "1"); !errors.Is(err, ratelimit.ErrQuotaExceeded) {
		t.Fatalf("third call should hit quota, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner provider called %d times, want 2", inner.calls)
	}
}

func TestAdapterErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := NewAdapterError("brickset", "getSets", 0, base)
	if !errors.Is(err, base) {
		t.Fatal("AdapterError should unwrap to the cause")
	}
	var ae *AdapterError
	if !errors.As(err, &ae) || ae.Source != "brickset" {
		t.Fatalf("unexpected error: %#v", err)
	}
	if again := NewAdapterError("other", "op", 500, err); again != err {
		t.Fatal("existing AdapterError should not be rewrapped")
	}
}
