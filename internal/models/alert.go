package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlertType selects how an alert compares prices.
type AlertType string

const (
	AlertThreshold     AlertType = "THRESHOLD"
	AlertPercentChange AlertType = "PERCENT_CHANGE"
)

// Direction selects which side of a comparison triggers.
type Direction string

const (
	DirectionAbove  Direction = "ABOVE"
	DirectionBelow  Direction = "BELOW"
	DirectionEither Direction = "EITHER"
)

// Alert is a user-owned rule. The pipeline only reads it.
// A nil ItemID applies to every item; a nil Condition applies to both conditions.
type Alert struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ItemID         *string    `json:"item_id,omitempty"`
	Condition      *Condition `json:"condition,omitempty"`
	Type           AlertType  `json:"alert_type"`
	Direction      Direction  `json:"direction"`
	ThresholdCents int64      `json:"threshold_cents,omitempty"`
	PercentChange  float64    `json:"percent_change,omitempty"`
	WindowDays     int        `json:"window_days"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Matches reports whether the alert is in scope for itemID.
func (a *Alert) Matches(itemID string) bool {
	return a.Enabled && (a.ItemID == nil || *a.ItemID == itemID)
}

// AppliesTo returns the conditions the alert watches.
func (a *Alert) AppliesTo() []Condition {
	if a.Condition == nil {
		return Conditions
	}
	return []Condition{*a.Condition}
}

// Validate checks type-specific fields.
func (a *Alert) Validate() error {
	if a.UserID == "" {
		return errors.New("alert user id must not be empty")
	}
	if a.Condition != nil && !a.Condition.Valid() {
		return fmt.Errorf("alert condition %q is invalid", *a.Condition)
	}
	switch a.Direction {
	case DirectionAbove, DirectionBelow, DirectionEither:
	default:
		return fmt.Errorf("alert direction %q is invalid", a.Direction)
	}
	switch a.Type {
	case AlertThreshold:
		if a.ThresholdCents <= 0 {
			return errors.New("threshold alert requires threshold_cents > 0")
		}
	case AlertPercentChange:
		if a.PercentChange <= 0 {
			return errors.New("percent change alert requires percent_change > 0")
		}
	default:
		return fmt.Errorf("alert type %q is invalid", a.Type)
	}
	if a.WindowDays < 0 {
		return errors.New("alert window_days must not be negative")
	}
	return nil
}

// ParseAlertType normalises user input.
func ParseAlertType(v string) (AlertType, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_")) {
	case "THRESHOLD":
		return AlertThreshold, nil
	case "PERCENT_CHANGE", "PERCENT":
		return AlertPercentChange, nil
	default:
		return "", fmt.Errorf("unknown alert type %q", v)
	}
}

// ParseDirection normalises user input.
func ParseDirection(v string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ABOVE", "UP":
		return DirectionAbove, nil
	case "BELOW", "DOWN":
		return DirectionBelow, nil
	case "EITHER", "ANY":
		return DirectionEither, nil
	default:
		return "", fmt.Errorf("unknown direction %q", v)
	}
}

// AlertEvent records one trigger. Only NotificationSent changes after creation.
type AlertEvent struct {
	ID                 string    `json:"id"`
	AlertID            string    `json:"alert_id"`
	UserID             string    `json:"user_id"`
	ItemID             string    `json:"item_id"`
	Condition          Condition `json:"condition"`
	TriggeredAt        time.Time `json:"triggered_at"`
	PriceCents         int64     `json:"price_cents"`
	PreviousPriceCents *int64    `json:"previous_price_cents,omitempty"`
	PercentChange      *float64  `json:"percent_change,omitempty"`
	NotificationSent   bool      `json:"notification_sent"`
}

// DayKey is the calendar-day component of the event dedupe key.
func (e *AlertEvent) DayKey() string {
	return e.TriggeredAt.UTC().Format("2006-01-02")
}
