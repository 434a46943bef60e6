package pricing

import (
	"math"
	"testing"
	"time"

	"collectible-pricing/internal/models"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func obs(cond models.Condition, cents int64, at time.Time) models.PriceObservation {
	return models.PriceObservation{ItemID: "75192-1", Condition: cond, Source: "test", PriceCents: cents, Currency: "USD", Timestamp: at}
}

func sealed(cents ...int64) []models.PriceObservation {
	out := make([]models.PriceObservation, len(cents))
	for i, c := range cents {
		out[i] = obs(models.ConditionSealed, c, base.Add(time.Duration(i)*time.Hour))
	}
	return out
}

func TestEstimateScenario(t *testing.T) {
	est := Estimate(sealed(10000, 12000, 11000), models.ConditionSealed)
	if est == nil {
		t.Fatal("estimate should not be nil")
	}
	if !est.MedianPrice.Equal(est.TrimmedMean) || est.MedianPrice.IntPart() != 11000 {
		t.Fatalf("median=%s trimmed=%s", est.MedianPrice, est.TrimmedMean)
	}
	if est.EstimatedValue != 11000 {
		t.Fatalf("estimate = %d, want 11000", est.EstimatedValue)
	}
	if est.PriceRange.Min != 10000 || est.PriceRange.Max != 12000 {
		t.Fatalf("range = %+v", est.PriceRange)
	}
	if !est.LastUpdated.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("lastUpdated = %s", est.LastUpdated)
	}
}

func TestEstimateEmptyIsNil(t *testing.T) {
	if Estimate(nil, models.ConditionSealed) != nil {
		t.Fatal("no observations should give nil")
	}
	if Estimate(sealed(100, 200), models.ConditionUsed) != nil {
		t.Fatal("no observations for the condition should give nil")
	}
}

func TestEstimateSingleObservation(t *testing.T) {
	est := Estimate(sealed(4999), models.ConditionSealed)
	if est.Confidence > 0.1 {
		t.Fatalf("single sample confidence %.3f should be <= 0.1", est.Confidence)
	}
	if est.TrimmedMean.IntPart() != 4999 || est.EstimatedValue != 4999 {
		t.Fatalf("single value should pass through: %+v", est)
	}
}

func TestEstimateEvenMedianAndTrim(t *testing.T) {
	// 10 values: one dropped from each end
	est := Estimate(sealed(100, 200, 300, 400, 500, 600, 700, 800, 900, 10000), models.ConditionSealed)
	if got := est.MedianPrice.String(); got != "550" {
		t.Fatalf("median = %s, want 550", got)
	}
	if got := est.TrimmedMean.String(); got != "550" {
		t.Fatalf("trimmed mean = %s, want 550", got)
	}
	if est.EstimatedValue != 550 {
		t.Fatalf("estimate = %d", est.EstimatedValue)
	}
	if est.PriceRange.Max != 10000 {
		t.Fatal("range must use untrimmed values")
	}
}

func TestEstimateProperties(t *testing.T) {
	sets := [][]int64{
		{1},
		{5, 5, 5, 5},
		{100, 100000},
		{300, 1, 70, 9999, 42, 42, 42, 8000, 12, 5, 7, 100000, 3},
	}
	for _, prices := range sets {
		est := Estimate(sealed(prices...), models.ConditionSealed)
		med := est.MedianPrice.InexactFloat64()
		if float64(est.PriceRange.Min) > med || med > float64(est.PriceRange.Max) {
			t.Fatalf("median %v outside range %+v", med, est.PriceRange)
		}
		if est.Confidence < 0 || est.Confidence > 1 {
			t.Fatalf("confidence %v outside [0,1]", est.Confidence)
		}
	}

	many := make([]int64, 50)
	for i := range many {
		many[i] = 1000
	}
	if est := Estimate(sealed(many...), models.ConditionSealed); est.Confidence != 1 {
		t.Fatalf("confidence should cap at 1, got %v", est.Confidence)
	}
}

func TestTrendPercentChange(t *testing.T) {
	now := base.Add(30 * 24 * time.Hour)
	data := []models.PriceObservation{
		obs(models.ConditionSealed, 9000, now.Add(-20*24*time.Hour)),
		obs(models.ConditionSealed, 11000, now.Add(-10*24*time.Hour)),
		obs(models.ConditionSealed, 11500, now.Add(-3*24*time.Hour)),
		obs(models.ConditionSealed, 12500, now.Add(-1*24*time.Hour)),
		obs(models.ConditionUsed, 1, now),
	}
	tr := Trend(data, models.ConditionSealed, 7, now)
	if tr == nil {
		t.Fatal("trend should be computable")
	}
	if tr.Change != 2000 || math.Abs(tr.PercentChange-20.0) > 1e-9 {
		t.Fatalf("change=%v pct=%v", tr.Change, tr.PercentChange)
	}
	if tr.RecentCount != 2 || tr.OlderCount != 2 {
		t.Fatalf("partition counts %d/%d", tr.RecentCount, tr.OlderCount)
	}
}

func TestTrendNeedsBothPartitions(t *testing.T) {
	now := base.Add(24 * time.Hour)
	if Trend(sealed(100, 200), models.ConditionSealed, 7, now) != nil {
		t.Fatal("all-recent data should give nil")
	}
	if Trend(sealed(100, 200), models.ConditionSealed, 7, now.Add(30*24*time.Hour)) != nil {
		t.Fatal("all-older data should give nil")
	}
}

func TestForecastLinear(t *testing.T) {
	var data []models.PriceObservation
	for i := 0; i < 5; i++ {
		data = append(data, obs(models.ConditionSealed, int64(10000+100*i), base.Add(time.Duration(i)*24*time.Hour)))
	}
	fc := Forecast(data, models.ConditionSealed, 30)
	if fc == nil {
		t.Fatal("forecast should be computable")
	}
	if math.Abs(fc.Slope-100) > 1e-6 {
		t.Fatalf("slope = %v", fc.Slope)
	}
	if math.Abs(fc.Confidence-1) > 1e-9 {
		t.Fatalf("R² = %v", fc.Confidence)
	}
	if fc.Trend != models.TrendUp {
		t.Fatalf("trend = %s", fc.Trend)
	}
	if fc.PredictedValue != 10400+3000 {
		t.Fatalf("predicted = %d", fc.PredictedValue)
	}
	if !fc.ForecastDate.Equal(base.Add(34 * 24 * time.Hour)) {
		t.Fatalf("forecast date = %s", fc.ForecastDate)
	}
}

func TestForecastFlatAndSparse(t *testing.T) {
	if Forecast(sealed(1, 2, 3, 4), models.ConditionSealed, 7) != nil {
		t.Fatal("fewer than 5 observations should give nil")
	}

	var flat []models.PriceObservation
	for i := 0; i < 6; i++ {
		flat = append(flat, obs(models.ConditionSealed, 5000, base.Add(time.Duration(i)*24*time.Hour)))
	}
	fc := Forecast(flat, models.ConditionSealed, 10)
	if fc == nil || fc.Confidence != 0 || fc.Trend != models.TrendStable || fc.PredictedValue != 5000 {
		t.Fatalf("flat series: %+v", fc)
	}

	var down []models.PriceObservation
	for i := 0; i < 5; i++ {
		down = append(down, obs(models.ConditionUsed, int64(9000-50*i), base.Add(time.Duration(i)*24*time.Hour)))
	}
	if fc := Forecast(down, models.ConditionUsed, 1); fc == nil || fc.Trend != models.TrendDown {
		t.Fatalf("falling series should be DOWN: %+v", fc)
	}
}
