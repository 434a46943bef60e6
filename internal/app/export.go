package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/pricing"
	"collectible-pricing/internal/provider"
)

// ExportOptions hold parameters for exporting an item's price history.
type ExportOptions struct {
	ItemNumber string
	Condition  string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// Export renders stored observations as CSV and/or a PNG chart with forecast lines.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ItemNumber == "" {
		return errors.New("item number is required")
	}
	conditions, err := parseConditions(opts.Condition)
	if err != nil {
		return err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := a.Clock.Now()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	var from time.Time
	if opts.From != nil {
		from = opts.From.UTC()
		if !from.Before(to) {
			return errors.New("from must be before to")
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	item := provider.NormalizeItemNumber(opts.ItemNumber)
	all, err := store.ListObservations(ctx, item, from)
	if err != nil {
		return err
	}

	series := make(map[models.Condition][]models.PriceObservation)
	total := 0
	for _, o := range all {
		if o.Timestamp.After(to) {
			continue
		}
		for _, c := range conditions {
			if o.Condition == c {
				series[c] = append(series[c], o)
				total++
			}
		}
	}
	if total == 0 {
		a.Logger.Info().Str("item", item).Msg("no observations found for export window")
		return nil
	}

	exported := 0
	for c, obs := range series {
		series[c] = downsample(obs, opts.MaxPoints)
		exported += len(series[c])
	}
	a.Logger.Info().Str("item", item).Int("total", total).Int("exported", exported).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, conditions, series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		forecasts := make(map[models.Condition]*models.ForecastResult)
		for c, obs := range series {
			forecasts[c] = pricing.Forecast(obs, c, a.Config.Pricing.ForecastDays)
		}
		if err := writeObservationsPNG(opts.PNGPath, item, conditions, series, forecasts); err != nil {
			return err
		}
	}

	return nil
}

func downsample(obs []models.PriceObservation, max int) []models.PriceObservation {
	if max <= 1 || len(obs) <= max {
		return obs
	}

	result := make([]models.PriceObservation, 0, max)
	step := float64(len(obs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(obs) {
			idx = len(obs) - 1
		}
		result = append(result, obs[idx])
	}
	return result
}

func writeObservationsCSV(path string, order []models.Condition, series map[models.Condition][]models.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "item_id", "condition", "source", "price", "price_cents", "currency", "sample_size", "variance"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range order {
		for _, o := range series[c] {
			variance := ""
			if o.Variance != nil {
				variance = strconv.FormatFloat(*o.Variance, 'f', -1, 64)
			}
			record := []string{
				o.Timestamp.UTC().Format(time.RFC3339),
				o.ItemID,
				string(o.Condition),
				o.Source,
				decimal.New(o.PriceCents, -2).StringFixed(2),
				strconv.FormatInt(o.PriceCents, 10),
				o.Currency,
				strconv.Itoa(o.SampleSize),
				variance,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeObservationsPNG(path, item string, order []models.Condition, series map[models.Condition][]models.PriceObservation, forecasts map[models.Condition]*models.ForecastResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var plotted []chart.Series
	for _, c := range order {
		obs := series[c]
		if len(obs) == 0 {
			continue
		}
		x := make([]time.Time, len(obs))
		y := make([]float64, len(obs))
		for i, o := range obs {
			x[i] = o.Timestamp
			y[i] = decimal.New(o.PriceCents, -2).InexactFloat64()
		}
		// go-chart needs at least two points per series
		if len(obs) == 1 {
			x = append(x, x[0].Add(time.Minute))
			y = append(y, y[0])
		}
		plotted = append(plotted, chart.TimeSeries{
			Name:    string(c),
			XValues: x,
			YValues: y,
		})

		if f := forecasts[c]; f != nil {
			last := obs[len(obs)-1]
			plotted = append(plotted, chart.TimeSeries{
				Name: fmt.Sprintf("%s forecast (R² %s)", c, decimal.NewFromFloat(f.Confidence).StringFixed(2)),
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
				XValues: []time.Time{last.Timestamp, f.ForecastDate},
				YValues: []float64{
					decimal.New(last.PriceCents, -2).InexactFloat64(),
					decimal.New(f.PredictedValue, -2).InexactFloat64(),
				},
			})
		}
	}
	if len(plotted) == 0 {
		return errors.New("nothing to plot")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "$%.2f")
	}
	graph := chart.Chart{
		Title:  item,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

func centsOrDash(cents int64) string {
	if cents <= 0 {
		return "-"
	}
	return formatCents(cents)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
