package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/models"
	"collectible-pricing/internal/pricing"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/scheduler"
	"collectible-pricing/internal/storage"
)

const (
	defaultFreshness   = 24 * time.Hour
	defaultItemTimeout = 60 * time.Second
	defaultTrendWindow = 30
	defaultForecast    = 90
)

// AlertEvaluator is invoked after new observations are stored for an item.
type AlertEvaluator interface {
	EvaluateAlertsForItem(ctx context.Context, itemID string) ([]models.AlertEvent, error)
}

// Options wires the refresh service.
type Options struct {
	Items        storage.ItemStore
	Observations storage.ObservationStore
	Prices       provider.PriceProvider
	Alerts       AlertEvaluator
	Locker       storage.AdvisoryLocker
	Scheduler    *scheduler.Scheduler
	Clock        clock.Clock

	LockKey         int64
	BatchSize       int
	InterBatchDelay time.Duration
	ItemTimeout     time.Duration
	Freshness       time.Duration

	Lookback        time.Duration
	TrendWindowDays int
	ForecastDays    int
}

// Service orchestrates price refreshes, persistence and alert evaluation.
type Service struct {
	items        storage.ItemStore
	observations storage.ObservationStore
	prices       provider.PriceProvider
	alerts       AlertEvaluator
	locker       storage.AdvisoryLocker
	scheduler    *scheduler.Scheduler
	clock        clock.Clock
	logger       zerolog.Logger

	lockKey         int64
	batchSize       int
	interBatchDelay time.Duration
	itemTimeout     time.Duration
	freshness       time.Duration
	lookback        time.Duration
	trendWindowDays int
	forecastDays    int
}

// RefreshResult summarises a bulk refresh. Total counts every known item.
type RefreshResult struct {
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// ItemRefresh is the outcome of refreshing a single item.
type ItemRefresh struct {
	ItemNumber string              `json:"item_number"`
	Fetched    int                 `json:"fetched"`
	Stored     int                 `json:"stored"`
	Events     []models.AlertEvent `json:"events"`
}

// Valuation bundles the derived statistics of one item and condition.
// Nil members mean there was not enough data.
type Valuation struct {
	ItemNumber   string                    `json:"item_number"`
	Condition    models.Condition          `json:"condition"`
	Observations int                       `json:"observations"`
	Estimate     *models.PriceEstimate     `json:"estimate,omitempty"`
	Trend        *models.TrendResult       `json:"trend,omitempty"`
	Forecast     *models.ForecastResult    `json:"forecast,omitempty"`
	History      []models.PriceObservation `json:"-"`
}

// New constructs the refresh service.
func New(opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Items == nil || opts.Observations == nil {
		return nil, errors.New("service requires item and observation stores")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Freshness <= 0 {
		opts.Freshness = defaultFreshness
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = defaultItemTimeout
	}
	if opts.TrendWindowDays <= 0 {
		opts.TrendWindowDays = defaultTrendWindow
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = defaultForecast
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	return &Service{
		items:           opts.Items,
		observations:    opts.Observations,
		prices:          opts.Prices,
		alerts:          opts.Alerts,
		locker:          opts.Locker,
		scheduler:       opts.Scheduler,
		clock:           opts.Clock,
		logger:          logger.With().Str("component", "service").Logger(),
		lockKey:         opts.LockKey,
		batchSize:       opts.BatchSize,
		interBatchDelay: opts.InterBatchDelay,
		itemTimeout:     opts.ItemTimeout,
		freshness:       opts.Freshness,
		lookback:        opts.Lookback,
		trendWindowDays: opts.TrendWindowDays,
		forecastDays:    opts.ForecastDays,
	}, nil
}

// Run begins the periodic refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个调度周期的刷新逻辑。
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.RefreshAll(ctx, s.batchSize, s.interBatchDelay)
	if err != nil {
		return err
	}
	s.logger.Info().Time("bucket", bucket).
		Int("refreshed", res.Refreshed).
		Int("skipped", res.Skipped).
		Int("errors", res.Errors).
		Int("total", res.Total).
		Msg("refresh cycle complete")
	return nil
}

// RefreshAll refreshes every stale item in sequential batches. Items within a batch run
// concurrently; a failing item is counted and skipped. The error is non-nil only when
// the item list cannot be read or ctx ends, and the partial result is still returned.
func (s *Service) RefreshAll(ctx context.Context, batchSize int, interBatchDelay time.Duration) (RefreshResult, error) {
	if s.prices == nil {
		return RefreshResult{}, &provider.ConfigurationError{Capability: "price"}
	}
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	numbers, err := s.items.ListItemNumbers(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("list items: %w", err)
	}
	result := RefreshResult{Total: len(numbers)}

	stale := make([]string, 0, len(numbers))
	now := s.clock.Now()
	for _, n := range numbers {
		latest, ok, err := s.observations.LatestObservationAt(ctx, n)
		if err != nil {
			s.logger.Warn().Err(err).Str("item", n).Msg("freshness check failed; refreshing anyway")
		} else if ok && now.Sub(latest) < s.freshness {
			result.Skipped++
			continue
		}
		stale = append(stale, n)
	}

	var mu sync.Mutex
	for start, batchNo := 0, 0; start < len(stale); start, batchNo = start+batchSize, batchNo+1 {
		if batchNo > 0 && interBatchDelay > 0 {
			if err := s.clock.Sleep(ctx, interBatchDelay); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := min(start+batchSize, len(stale))
		batch := stale[start:end]

		// failures are counted inline; Wait reports the first one for the batch log
		var g errgroup.Group
		for _, n := range batch {
			g.Go(func() error {
				_, err := s.RefreshItem(ctx, n)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					s.logger.Warn().Err(err).Str("item", n).Msg("item refresh failed; skipping")
					result.Errors++
					return fmt.Errorf("item %s: %w", n, err)
				}
				result.Refreshed++
				return nil
			})
		}
		batchErr := g.Wait()

		ev := s.logger.Info()
		if batchErr != nil {
			ev = s.logger.Warn().AnErr("first_error", batchErr)
		}
		ev.Int("batch", batchNo+1).Int("size", len(batch)).
			Int("refreshed", result.Refreshed).Int("errors", result.Errors).Msg("batch complete")
	}

	return result, nil
}

// RefreshItem fetches fresh observations under the item timeout, appends them and
// evaluates the item's alerts. Alert failures are logged and do not fail the refresh.
func (s *Service) RefreshItem(ctx context.Context, itemNumber string) (ItemRefresh, error) {
	out := ItemRefresh{ItemNumber: itemNumber, Events: []models.AlertEvent{}}
	if s.prices == nil {
		return out, &provider.ConfigurationError{Capability: "price"}
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	obs, err := s.prices.RefreshPrices(itemCtx, itemNumber)
	if err != nil {
		return out, fmt.Errorf("refresh prices %s: %w", itemNumber, err)
	}
	for i := range obs {
		obs[i].ItemID = itemNumber
	}
	out.Fetched = len(obs)

	stored, err := s.observations.InsertObservations(itemCtx, obs)
	if err != nil {
		return out, fmt.Errorf("store observations %s: %w", itemNumber, err)
	}
	out.Stored = stored

	if s.alerts != nil {
		events, err := s.alerts.EvaluateAlertsForItem(ctx, itemNumber)
		if err != nil {
			s.logger.Error().Err(err).Str("item", itemNumber).Msg("alert evaluation failed")
		}
		out.Events = append(out.Events, events...)
	}

	s.logger.Debug().Str("item", itemNumber).Int("fetched", out.Fetched).Int("stored", out.Stored).
		Int("events", len(out.Events)).Msg("item refreshed")
	return out, nil
}

// Valuation derives estimate, trend and forecast from stored observations.
func (s *Service) Valuation(ctx context.Context, itemNumber string, condition models.Condition) (*Valuation, error) {
	now := s.clock.Now()
	var since time.Time
	if s.lookback > 0 {
		since = now.Add(-s.lookback)
	}
	obs, err := s.observations.ListObservations(ctx, itemNumber, since)
	if err != nil {
		return nil, fmt.Errorf("load observations %s: %w", itemNumber, err)
	}

	history := make([]models.PriceObservation, 0, len(obs))
	for _, o := range obs {
		if o.Condition == condition {
			history = append(history, o)
		}
	}

	return &Valuation{
		ItemNumber:   itemNumber,
		Condition:    condition,
		Observations: len(history),
		Estimate:     pricing.Estimate(history, condition),
		Trend:        pricing.Trend(history, condition, s.trendWindowDays, now),
		Forecast:     pricing.Forecast(history, condition, s.forecastDays),
		History:      history,
	}, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
