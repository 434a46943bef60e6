// Package pricing turns raw price observations into estimates, trends and forecasts.
// A nil result means the data is insufficient; callers must not read it as zero.
package pricing

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"collectible-pricing/internal/models"
)

const (
	trimFraction   = 0.10
	medianWeight   = 0.6
	trimmedWeight  = 0.4
	fullConfidence = 10.0
)

var (
	decMedianWeight  = decimal.NewFromFloat(medianWeight)
	decTrimmedWeight = decimal.NewFromFloat(trimmedWeight)
	decTwo           = decimal.NewFromInt(2)
)

// Estimate computes a point value for one condition.
func Estimate(observations []models.PriceObservation, condition models.Condition) *models.PriceEstimate {
	filtered := filter(observations, condition)
	if len(filtered) == 0 {
		return nil
	}

	prices := make([]int64, len(filtered))
	lastUpdated := filtered[0].Timestamp
	for i, o := range filtered {
		prices[i] = o.PriceCents
		if o.Timestamp.After(lastUpdated) {
			lastUpdated = o.Timestamp
		}
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	n := len(prices)
	median := Median(prices)
	trimmed := TrimmedMean(prices, trimFraction)
	_, std := meanStd(prices)

	medianF := median.InexactFloat64()
	dispersion := 0.0
	if medianF > 0 {
		dispersion = std / medianF
	}
	confidence := math.Min(1, (float64(n)/fullConfidence)*(1/(1+dispersion)))

	value := median.Mul(decMedianWeight).Add(trimmed.Mul(decTrimmedWeight)).Round(0).IntPart()

	return &models.PriceEstimate{
		EstimatedValue: value,
		Confidence:     confidence,
		SampleSize:     n,
		PriceRange:     models.PriceRange{Min: prices[0], Max: prices[n-1]},
		MedianPrice:    median,
		TrimmedMean:    trimmed,
		StdDev:         std,
		LastUpdated:    lastUpdated,
	}
}

// Median of ascending prices; the mean of the two central values for even counts.
func Median(sorted []int64) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return decimal.NewFromInt(sorted[n/2])
	}
	return decimal.NewFromInt(sorted[n/2-1]).Add(decimal.NewFromInt(sorted[n/2])).Div(decTwo)
}

// TrimmedMean drops floor(n*fraction) values from each end of ascending prices.
func TrimmedMean(sorted []int64, fraction float64) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	k := int(math.Floor(float64(n) * fraction))
	if 2*k >= n {
		k = 0
	}
	kept := sorted[k : n-k]
	sum := decimal.Zero
	for _, p := range kept {
		sum = sum.Add(decimal.NewFromInt(p))
	}
	return sum.Div(decimal.NewFromInt(int64(len(kept))))
}

// meanStd returns the population mean and standard deviation.
func meanStd(prices []int64) (float64, float64) {
	n := float64(len(prices))
	var sum float64
	for _, p := range prices {
		sum += float64(p)
	}
	mean := sum / n
	var sq float64
	for _, p := range prices {
		d := float64(p) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

func filter(observations []models.PriceObservation, condition models.Condition) []models.PriceObservation {
	out := make([]models.PriceObservation, 0, len(observations))
	for _, o := range observations {
		if o.Condition == condition && o.PriceCents > 0 {
			out = append(out, o)
		}
	}
	return out
}

func sortedByTime(observations []models.PriceObservation) []models.PriceObservation {
	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].Timestamp.Before(observations[j].Timestamp)
	})
	return observations
}

const day = 24 * time.Hour
