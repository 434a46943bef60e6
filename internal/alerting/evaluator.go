// Package alerting evaluates user price alerts and delivers their notifications.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/pricing"
	"collectible-pricing/internal/storage"
)

const (
	defaultDedupWindow = 24 * time.Hour
	defaultWindowDays  = 30
)

// Enqueuer accepts created events for asynchronous delivery.
type Enqueuer interface {
	Enqueue(event models.AlertEvent) bool
}

// EvaluatorOptions wires an Evaluator.
type EvaluatorOptions struct {
	Alerts       storage.AlertStore
	Observations storage.ObservationStore
	// Dispatch is optional; without it events are only stored.
	Dispatch    Enqueuer
	Clock       clock.Clock
	DedupWindow time.Duration
	// Lookback bounds the observations read per item. Zero reads everything.
	Lookback time.Duration
	// DefaultWindowDays applies to alerts stored without a window.
	DefaultWindowDays int
}

// Evaluator turns estimates and trends into deduplicated alert events.
type Evaluator struct {
	alerts            storage.AlertStore
	observations      storage.ObservationStore
	dispatch          Enqueuer
	clock             clock.Clock
	dedupWindow       time.Duration
	lookback          time.Duration
	defaultWindowDays int
	logger            zerolog.Logger
}

// NewEvaluator validates options and applies defaults.
func NewEvaluator(opts EvaluatorOptions, logger zerolog.Logger) (*Evaluator, error) {
	if opts.Alerts == nil || opts.Observations == nil {
		return nil, errors.New("alert evaluator requires alert and observation stores")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.DefaultWindowDays <= 0 {
		opts.DefaultWindowDays = defaultWindowDays
	}
	return &Evaluator{
		alerts:            opts.Alerts,
		observations:      opts.Observations,
		dispatch:          opts.Dispatch,
		clock:             opts.Clock,
		dedupWindow:       opts.DedupWindow,
		lookback:          opts.Lookback,
		defaultWindowDays: opts.DefaultWindowDays,
		logger:            logger.With().Str("component", "alert_evaluator").Logger(),
	}, nil
}

// EvaluateAlertsForItem returns the events actually created for the item.
// Per-alert failures are logged and joined into the returned error; events created
// before a failure are still returned.
func (e *Evaluator) EvaluateAlertsForItem(ctx context.Context, itemID string) ([]models.AlertEvent, error) {
	alerts, err := e.alerts.ListAlertsForItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load alerts for %s: %w", itemID, err)
	}
	created := make([]models.AlertEvent, 0)
	if len(alerts) == 0 {
		return created, nil
	}

	now := e.clock.Now()
	var since time.Time
	if e.lookback > 0 {
		since = now.Add(-e.lookback)
	}
	observations, err := e.observations.ListObservations(ctx, itemID, since)
	if err != nil {
		return nil, fmt.Errorf("load observations for %s: %w", itemID, err)
	}

	estimates := make(map[models.Condition]*models.PriceEstimate, len(models.Conditions))
	for _, cond := range models.Conditions {
		estimates[cond] = pricing.Estimate(observations, cond)
	}

	var errs []error
	for i := range alerts {
		alert := alerts[i]
		if !alert.Matches(itemID) {
			continue
		}
		for _, cond := range alert.AppliesTo() {
			est := estimates[cond]
			if est == nil {
				continue
			}
			window := alert.WindowDays
			if window <= 0 {
				window = e.defaultWindowDays
			}
			trend := pricing.Trend(observations, cond, window, now)

			check := Check(alert, est, trend)
			if !check.Triggered {
				continue
			}

			event, ok, err := e.record(ctx, alert, itemID, cond, now, check)
			if err != nil {
				e.logger.Error().Err(err).Str("alert", alert.ID).Str("item", itemID).Msg("failed to record alert event")
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			created = append(created, event)
			if e.dispatch != nil && !e.dispatch.Enqueue(event) {
				e.logger.Warn().Str("event", event.ID).Msg("notification queue full; event left unsent")
			}
		}
	}

	if len(errs) > 0 {
		return created, errors.Join(errs...)
	}
	return created, nil
}

func (e *Evaluator) record(ctx context.Context, alert models.Alert, itemID string, cond models.Condition, now time.Time, check CheckResult) (models.AlertEvent, bool, error) {
	recent, err := e.alerts.RecentAlertEvent(ctx, alert.ID, itemID, now.Add(-e.dedupWindow))
	if err != nil {
		return models.AlertEvent{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	if recent {
		e.logger.Debug().Str("alert", alert.ID).Str("item", itemID).Msg("alert suppressed inside dedup window")
		return models.AlertEvent{}, false, nil
	}

	event := models.AlertEvent{
		ID:                 uuid.NewString(),
		AlertID:            alert.ID,
		UserID:             alert.UserID,
		ItemID:             itemID,
		Condition:          cond,
		TriggeredAt:        now,
		PriceCents:         check.PriceCents,
		PreviousPriceCents: check.PreviousPriceCents,
		PercentChange:      check.PercentChange,
	}
	inserted, err := e.alerts.InsertAlertEvent(ctx, event)
	if err != nil {
		return models.AlertEvent{}, false, err
	}
	if !inserted {
		e.logger.Debug().Str("alert", alert.ID).Str("item", itemID).Str("day", event.DayKey()).Msg("alert already fired today")
		return models.AlertEvent{}, false, nil
	}

	e.logger.Info().Str("alert", alert.ID).Str("user", alert.UserID).Str("item", itemID).
		Str("condition", string(cond)).Int64("price_cents", check.PriceCents).Msg("alert triggered")
	return event, true, nil
}

// CheckResult is the outcome of evaluating one alert against one estimate.
type CheckResult struct {
	Triggered          bool
	PriceCents         int64
	PreviousPriceCents *int64
	PercentChange      *float64
}

// Check applies the alert rule. trend may be nil; rules that need it then never trigger.
func Check(alert models.Alert, est *models.PriceEstimate, trend *models.TrendResult) CheckResult {
	if est == nil {
		return CheckResult{}
	}
	res := CheckResult{PriceCents: est.EstimatedValue}
	if trend != nil {
		prev := est.EstimatedValue - int64(math.Round(trend.Change))
		pct := trend.PercentChange
		res.PreviousPriceCents = &prev
		res.PercentChange = &pct
	}

	switch alert.Type {
	case models.AlertThreshold:
		current := est.EstimatedValue
		threshold := alert.ThresholdCents
		switch alert.Direction {
		case models.DirectionAbove:
			res.Triggered = current >= threshold
		case models.DirectionBelow:
			res.Triggered = current <= threshold
		case models.DirectionEither:
			if res.PreviousPriceCents == nil {
				return res
			}
			old := *res.PreviousPriceCents
			res.Triggered = (old < threshold && current >= threshold) || (old > threshold && current <= threshold)
		}
	case models.AlertPercentChange:
		if trend == nil {
			return res
		}
		pct := trend.PercentChange
		if math.Abs(pct) < alert.PercentChange {
			return res
		}
		switch alert.Direction {
		case models.DirectionAbove:
			res.Triggered = pct > 0
		case models.DirectionBelow:
			res.Triggered = pct < 0
		case models.DirectionEither:
			res.Triggered = true
		}
	}
	return res
}
