package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/storage"
)

// AlertOptions describe a new alert rule as entered on the command line.
type AlertOptions struct {
	ID            string
	UserID        string
	ItemNumber    string
	Condition     string
	Type          string
	Direction     string
	Threshold     string
	PercentChange float64
	WindowDays    int
	Disabled      bool
}

// EventsOptions filter the event listing.
type EventsOptions struct {
	UserID     string
	ItemNumber string
	UnsentOnly bool
	Limit      int
}

// BuildAlert converts command line input into a validated alert.
func BuildAlert(opts AlertOptions, now time.Time) (models.Alert, error) {
	alertType, err := models.ParseAlertType(opts.Type)
	if err != nil {
		return models.Alert{}, err
	}
	direction, err := models.ParseDirection(opts.Direction)
	if err != nil {
		return models.Alert{}, err
	}

	alert := models.Alert{
		ID:            opts.ID,
		UserID:        opts.UserID,
		Type:          alertType,
		Direction:     direction,
		PercentChange: opts.PercentChange,
		WindowDays:    opts.WindowDays,
		Enabled:       !opts.Disabled,
		CreatedAt:     now,
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if opts.ItemNumber != "" {
		item := provider.NormalizeItemNumber(opts.ItemNumber)
		alert.ItemID = &item
	}
	if opts.Condition != "" {
		cond, err := models.ParseCondition(opts.Condition)
		if err != nil {
			return models.Alert{}, err
		}
		alert.Condition = &cond
	}
	if opts.Threshold != "" {
		amount, err := decimal.NewFromString(opts.Threshold)
		if err != nil {
			return models.Alert{}, fmt.Errorf("invalid threshold %q: %w", opts.Threshold, err)
		}
		alert.ThresholdCents = amount.Shift(2).Round(0).IntPart()
	}
	if err := alert.Validate(); err != nil {
		return models.Alert{}, err
	}
	return alert, nil
}

// AddAlert stores a new or replacement alert rule and prints its id.
func (a *App) AddAlert(ctx context.Context, opts AlertOptions) error {
	alert, err := BuildAlert(opts, a.Clock.Now())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.UpsertAlert(ctx, alert); err != nil {
		return err
	}
	a.Logger.Info().Str("alert", alert.ID).Str("user", alert.UserID).Msg("alert saved")
	fmt.Fprintln(a.Out, alert.ID)
	return nil
}

// Events lists stored alert events, newest first.
func (a *App) Events(ctx context.Context, opts EventsOptions) error {
	if opts.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	filter := storage.EventFilter{UserID: opts.UserID, UnsentOnly: opts.UnsentOnly, Limit: opts.Limit}
	if opts.ItemNumber != "" {
		filter.ItemID = provider.NormalizeItemNumber(opts.ItemNumber)
	}
	events, err := store.ListAlertEvents(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no alert events found")
		return nil
	}
	return a.printEvents(events)
}

func (a *App) printEvents(events []models.AlertEvent) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAlert\tUser\tItem\tCondition\tPrice\tPrevious\tChange %\tSent")
	for _, ev := range events {
		prev, pct := "-", "-"
		if ev.PreviousPriceCents != nil {
			prev = formatCents(*ev.PreviousPriceCents)
		}
		if ev.PercentChange != nil {
			pct = decimal.NewFromFloat(*ev.PercentChange).StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			ev.TriggeredAt.UTC().Format(time.RFC3339),
			ev.AlertID,
			ev.UserID,
			ev.ItemID,
			ev.Condition,
			formatCents(ev.PriceCents),
			prev,
			pct,
			ev.NotificationSent,
		)
	}
	return writer.Flush()
}
