package pricing

import (
	"math"
	"time"

	"collectible-pricing/internal/models"
)

// Slope thresholds in minor units per day.
const (
	upSlope   = 5.0
	downSlope = -5.0
	minPoints = 5
)

// Trend compares the average of observations inside the window ending at now with
// the average of everything older. Both partitions must be non-empty.
func Trend(observations []models.PriceObservation, condition models.Condition, windowDays int, now time.Time) *models.TrendResult {
	filtered := sortedByTime(filter(observations, condition))
	boundary := now.Add(-time.Duration(windowDays) * day)

	var recentSum, olderSum float64
	var recentN, olderN int
	for _, o := range filtered {
		if o.Timestamp.Before(boundary) {
			olderSum += float64(o.PriceCents)
			olderN++
		} else {
			recentSum += float64(o.PriceCents)
			recentN++
		}
	}
	if recentN == 0 || olderN == 0 {
		return nil
	}

	recentAvg := recentSum / float64(recentN)
	olderAvg := olderSum / float64(olderN)
	change := recentAvg - olderAvg
	return &models.TrendResult{
		Change:        change,
		PercentChange: change / olderAvg * 100,
		RecentAverage: recentAvg,
		OlderAverage:  olderAvg,
		RecentCount:   recentN,
		OlderCount:    olderN,
	}
}

// Forecast fits an ordinary least-squares line over (days since first observation, price)
// and projects it daysAhead past the last observation.
func Forecast(observations []models.PriceObservation, condition models.Condition, daysAhead int) *models.ForecastResult {
	filtered := sortedByTime(filter(observations, condition))
	n := len(filtered)
	if n < minPoints {
		return nil
	}

	first := filtered[0].Timestamp
	xs := make([]float64, n)
	ys := make([]float64, n)
	var sx, sy, sxy, sxx float64
	for i, o := range filtered {
		x := o.Timestamp.Sub(first).Hours() / 24
		y := float64(o.PriceCents)
		xs[i], ys[i] = x, y
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}

	nf := float64(n)
	denom := nf*sxx - sx*sx
	if denom == 0 {
		// every observation shares one timestamp
		return nil
	}
	slope := (nf*sxy - sx*sy) / denom
	intercept := (sy - slope*sx) / nf

	meanY := sy / nf
	var ssRes, ssTot float64
	for i := range xs {
		fit := intercept + slope*xs[i]
		ssRes += (ys[i] - fit) * (ys[i] - fit)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	r2 := 0.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}

	lastX := xs[n-1]
	predicted := intercept + slope*(lastX+float64(daysAhead))

	return &models.ForecastResult{
		PredictedValue: int64(math.Round(predicted)),
		Confidence:     math.Max(0, r2),
		Slope:          slope,
		Intercept:      intercept,
		ForecastDate:   filtered[n-1].Timestamp.Add(time.Duration(daysAhead) * day),
		Trend:          classify(slope),
	}
}

func classify(slope float64) models.TrendDirection {
	switch {
	case slope > upSlope:
		return models.TrendUp
	case slope < downSlope:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}
