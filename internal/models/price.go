package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Condition distinguishes sealed from opened stock.
type Condition string

const (
	ConditionSealed Condition = "SEALED"
	ConditionUsed   Condition = "USED"
)

// Conditions lists every supported condition in evaluation order.
var Conditions = []Condition{ConditionSealed, ConditionUsed}

// ParseCondition accepts the canonical names plus the common new/used aliases.
func ParseCondition(v string) (Condition, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "SEALED", "NEW", "N":
		return ConditionSealed, nil
	case "USED", "U":
		return ConditionUsed, nil
	default:
		return "", fmt.Errorf("unknown condition %q", v)
	}
}

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	return c == ConditionSealed || c == ConditionUsed
}

// PriceObservation is one raw price point from one source. Observations are append-only.
type PriceObservation struct {
	ItemID     string         `json:"item_id"`
	Condition  Condition      `json:"condition"`
	Source     string         `json:"source"`
	PriceCents int64          `json:"price_cents"`
	Currency   string         `json:"currency"`
	Timestamp  time.Time      `json:"timestamp"`
	SampleSize int            `json:"sample_size,omitempty"`
	Variance   *float64       `json:"variance,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate rejects observations that cannot take part in estimation.
func (o *PriceObservation) Validate() error {
	if o.ItemID == "" {
		return errors.New("observation item id must not be empty")
	}
	if !o.Condition.Valid() {
		return fmt.Errorf("observation condition %q is invalid", o.Condition)
	}
	if o.PriceCents <= 0 {
		return errors.New("observation price must be positive")
	}
	if o.Timestamp.IsZero() {
		return errors.New("observation timestamp must be set")
	}
	if o.SampleSize < 0 {
		return errors.New("observation sample size must not be negative")
	}
	return nil
}
