package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRange is the untrimmed observed span.
type PriceRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// PriceEstimate is derived on demand and never persisted.
type PriceEstimate struct {
	EstimatedValue int64           `json:"estimated_value"`
	Confidence     float64         `json:"confidence"`
	SampleSize     int             `json:"sample_size"`
	PriceRange     PriceRange      `json:"price_range"`
	MedianPrice    decimal.Decimal `json:"median_price"`
	TrimmedMean    decimal.Decimal `json:"trimmed_mean"`
	StdDev         float64         `json:"variance"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// TrendResult compares a recent window with everything older.
type TrendResult struct {
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	RecentAverage float64 `json:"recent_average"`
	OlderAverage  float64 `json:"older_average"`
	RecentCount   int     `json:"recent_count"`
	OlderCount    int     `json:"older_count"`
}

// TrendDirection classifies a forecast slope.
type TrendDirection string

const (
	TrendUp     TrendDirection = "UP"
	TrendDown   TrendDirection = "DOWN"
	TrendStable TrendDirection = "STABLE"
)

// ForecastResult is a least-squares projection.
type ForecastResult struct {
	PredictedValue int64          `json:"predicted_value"`
	Confidence     float64        `json:"confidence"`
	Slope          float64        `json:"slope"`
	Intercept      float64        `json:"intercept"`
	ForecastDate   time.Time      `json:"forecast_date"`
	Trend          TrendDirection `json:"trend"`
}
