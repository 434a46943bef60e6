package app

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"collectible-pricing/internal/alerting"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/service"
)

// RefreshOptions configure a one-off refresh. An empty ItemNumber refreshes every stale item.
type RefreshOptions struct {
	ItemNumber      string
	BatchSize       int
	InterBatchDelay time.Duration
}

// EstimateOptions select the item and conditions to value.
type EstimateOptions struct {
	ItemNumber string
	Condition  string
}

// Refresh fetches prices now instead of waiting for the scheduler.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	p, err := a.newPipeline(ctx, nil)
	if err != nil {
		return err
	}
	defer p.close()

	if opts.ItemNumber != "" {
		out, err := p.service.RefreshItem(ctx, provider.NormalizeItemNumber(opts.ItemNumber))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "item %s: fetched %d, stored %d, alerts %d\n", out.ItemNumber, out.Fetched, out.Stored, len(out.Events))
		return nil
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = a.Config.Refresh.BatchSize
	}
	delay := opts.InterBatchDelay
	if delay <= 0 {
		delay = a.Config.Refresh.InterBatchDelay
	}
	res, err := p.service.RefreshAll(ctx, batch, delay)
	fmt.Fprintf(a.Out, "refreshed %d, skipped %d, errors %d, total %d\n", res.Refreshed, res.Skipped, res.Errors, res.Total)
	return err
}

// Estimate prints estimate, trend and forecast for stored observations.
func (a *App) Estimate(ctx context.Context, opts EstimateOptions) error {
	conditions, err := parseConditions(opts.Condition)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, nil, nil, nil)
	if err != nil {
		return err
	}

	item := provider.NormalizeItemNumber(opts.ItemNumber)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Condition\tSamples\tEstimate\tConfidence\tRange\tTrend %\tForecast\tR²\tDirection")
	for _, cond := range conditions {
		v, err := svc.Valuation(ctx, item, cond)
		if err != nil {
			return err
		}
		fmt.Fprintln(writer, valuationRow(v))
	}
	return writer.Flush()
}

func valuationRow(v *service.Valuation) string {
	estimate, confidence, span := "-", "-", "-"
	if e := v.Estimate; e != nil {
		estimate = formatCents(e.EstimatedValue)
		confidence = decimal.NewFromFloat(e.Confidence).StringFixed(2)
		span = formatCents(e.PriceRange.Min) + " - " + formatCents(e.PriceRange.Max)
	}
	trend := "-"
	if t := v.Trend; t != nil {
		trend = decimal.NewFromFloat(t.PercentChange).StringFixed(2)
	}
	forecast, r2, direction := "-", "-", "-"
	if f := v.Forecast; f != nil {
		forecast = fmt.Sprintf("%s @ %s", formatCents(f.PredictedValue), f.ForecastDate.UTC().Format("2006-01-02"))
		r2 = decimal.NewFromFloat(f.Confidence).StringFixed(3)
		direction = string(f.Trend)
	}
	return fmt.Sprintf("%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s",
		v.Condition, v.Observations, estimate, confidence, span, trend, forecast, r2, direction)
}

// Evaluate runs the alert rules for one item and prints the events created.
func (a *App) Evaluate(ctx context.Context, itemNumber string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var dispatcher *alerting.Dispatcher
	var dispatch alerting.Enqueuer
	if a.Config.Alerting.Enabled {
		dispatcher = a.newDispatcher(store)
		dispatch = dispatcher
	}
	evaluator, err := a.newEvaluator(store, dispatch)
	if err != nil {
		return err
	}

	events, evalErr := evaluator.EvaluateAlertsForItem(ctx, provider.NormalizeItemNumber(itemNumber))
	if dispatcher != nil {
		// wait for deliveries before the store closes
		dispatcher.Close()
	}
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no alerts triggered")
		return evalErr
	}
	sort.Slice(events, func(i, j int) bool { return events[i].AlertID < events[j].AlertID })
	if err := a.printEvents(events); err != nil {
		return err
	}
	return evalErr
}

func parseConditions(v string) ([]models.Condition, error) {
	if v == "" {
		return models.Conditions, nil
	}
	c, err := models.ParseCondition(v)
	if err != nil {
		return nil, err
	}
	return []models.Condition{c}, nil
}
