// Package provider defines the capability interfaces implemented by catalog and price
// sources, and the typed errors they raise.
package provider

import (
	"context"
	"errors"
	"fmt"

	"collectible-pricing/internal/models"
)

// CatalogProvider resolves item metadata. Lookups return nil, nil when the item is unknown.
type CatalogProvider interface {
	Name() string
	SearchItems(ctx context.Context, query string) ([]models.ItemMetadata, error)
	GetByNumber(ctx context.Context, itemNumber string) (*models.ItemMetadata, error)
	GetByGTIN(ctx context.Context, gtin string) (*models.ItemMetadata, error)
}

// PriceProvider returns raw price observations for an item.
type PriceProvider interface {
	Name() string
	GetPrices(ctx context.Context, itemNumber string, condition models.Condition) ([]models.PriceObservation, error)
	RefreshPrices(ctx context.Context, itemNumber string) ([]models.PriceObservation, error)
}

var (
	// ErrNotFound is returned when no source knows the requested item.
	ErrNotFound = errors.New("item not found in any source")
	// ErrUnsupported marks a capability a source does not offer.
	ErrUnsupported = errors.New("operation not supported by source")
)

// ConfigurationError means a capability has no configured source at all.
type ConfigurationError struct {
	Capability string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no %s provider configured: %s", e.Capability, e.Reason)
	}
	return fmt.Sprintf("no %s provider configured", e.Capability)
}

// AdapterError wraps a single source failure.
type AdapterError struct {
	Source     string
	Op         string
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Source, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError builds an AdapterError, keeping an existing one intact.
func NewAdapterError(source, op string, status int, err error) error {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return &AdapterError{Source: source, Op: op, StatusCode: status, Err: err}
}
