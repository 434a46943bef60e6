// Package models defines the catalog, price, and alert entities shared by every layer.
package models

import (
	"errors"
	"maps"
	"strings"
	"time"
)

// ItemMetadata is one catalog record for a collectible set.
// ItemNumber is the natural key; GTIN is an optional alternate key.
type ItemMetadata struct {
	ItemNumber   string            `json:"item_number"`
	Name         string            `json:"name"`
	Category     string            `json:"category,omitempty"`
	Year         int               `json:"year,omitempty"`
	PieceCount   int               `json:"piece_count,omitempty"`
	MSRPCents    int64             `json:"msrp_cents,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	Retired      *bool             `json:"retired,omitempty"`
	ExternalIDs  map[string]string `json:"external_ids,omitempty"`
	GTIN         string            `json:"gtin,omitempty"`
	Source       string            `json:"source,omitempty"`
	LastVerified time.Time         `json:"last_verified"`
}

// ErrIncompleteItem marks records that cannot be persisted.
var ErrIncompleteItem = errors.New("item number and name are required")

// Validate checks the mandatory natural-key fields.
func (m *ItemMetadata) Validate() error {
	if m == nil {
		return ErrIncompleteItem
	}
	if strings.TrimSpace(m.ItemNumber) == "" || strings.TrimSpace(m.Name) == "" {
		return ErrIncompleteItem
	}
	return nil
}

// Clone returns a deep copy so merges never alias maps or pointers.
func (m ItemMetadata) Clone() ItemMetadata {
	out := m
	if m.ExternalIDs != nil {
		out.ExternalIDs = maps.Clone(m.ExternalIDs)
	}
	if m.Retired != nil {
		v := *m.Retired
		out.Retired = &v
	}
	return out
}

// BoolPtr is a small helper for the tri-state Retired flag.
func BoolPtr(v bool) *bool {
	return &v
}
