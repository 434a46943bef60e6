package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/aggregate"
	"collectible-pricing/internal/alerting"
	"collectible-pricing/internal/clock"
	"collectible-pricing/internal/config"
	"collectible-pricing/internal/provider"
	"collectible-pricing/internal/provider/brickeconomy"
	"collectible-pricing/internal/provider/brickowl"
	"collectible-pricing/internal/provider/brickset"
	"collectible-pricing/internal/provider/rebrickable"
	"collectible-pricing/internal/ratelimit"
	"collectible-pricing/internal/resolver"
	"collectible-pricing/internal/scheduler"
	"collectible-pricing/internal/service"
	"collectible-pricing/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
	Clock  clock.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		Clock:  clock.System{},
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newLimiter() *ratelimit.Limiter {
	limiter := ratelimit.New(ratelimit.Options{
		Default: ratelimit.Conservative,
		Clock:   a.Clock,
	}, a.Logger)
	for _, name := range a.Config.Sources.Order {
		src, ok := a.Config.Sources.ByName(name)
		if !ok {
			continue
		}
		limiter.SetLimits(strings.ToLower(name), ratelimit.Limits{
			RequestsPerMinute: src.RequestsPerMinute,
			RequestsPerDay:    src.RequestsPerDay,
		})
	}
	return limiter
}

// newProviders builds every source that has credentials, in configured order.
// A source is catalog and/or price capable depending on what its client implements.
func (a *App) newProviders(limiter *ratelimit.Limiter) ([]provider.CatalogProvider, []provider.PriceProvider) {
	var catalogs []provider.CatalogProvider
	var prices []provider.PriceProvider

	for _, name := range a.Config.Sources.Order {
		src, ok := a.Config.Sources.ByName(name)
		if !ok || !src.Enabled() {
			a.Logger.Debug().Str("source", name).Msg("source has no credentials; disabled")
			continue
		}

		var (
			client any
			err    error
		)
		switch strings.ToLower(name) {
		case brickeconomy.SourceName:
			client, err = brickeconomy.New(brickeconomy.Options{
				APIKey: src.APIKey, BaseURL: src.BaseURL, Currency: src.Currency, Timeout: src.Timeout, Clock: a.Clock,
			}, a.Logger)
		case brickset.SourceName:
			client, err = brickset.New(brickset.Options{
				APIKey: src.APIKey, BaseURL: src.BaseURL, Timeout: src.Timeout, Clock: a.Clock,
			}, a.Logger)
		case rebrickable.SourceName:
			client, err = rebrickable.New(rebrickable.Options{
				APIKey: src.APIKey, BaseURL: src.BaseURL, Timeout: src.Timeout, Clock: a.Clock,
			}, a.Logger)
		case brickowl.SourceName:
			client, err = brickowl.New(brickowl.Options{
				APIKey: src.APIKey, BaseURL: src.BaseURL, Country: src.Country, Currency: src.Currency, Timeout: src.Timeout, Clock: a.Clock,
				Limiter: limiter,
			}, a.Logger)
		default:
			continue
		}
		if err != nil {
			a.Logger.Warn().Err(err).Str("source", name).Msg("source could not be constructed; skipping")
			continue
		}

		if c, ok := client.(provider.CatalogProvider); ok {
			catalogs = append(catalogs, provider.WithLimiter(c, limiter))
		}
		if p, ok := client.(provider.PriceProvider); ok {
			prices = append(prices, provider.WithPriceLimiter(p, limiter))
		}
	}
	return catalogs, prices
}

func (a *App) newResolver(store *storage.Store, catalogs []provider.CatalogProvider) (*resolver.LocalFirst, error) {
	composite, err := aggregate.NewCatalog(catalogs, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Strs("sources", composite.Sources()).Msg("catalog sources")
	return resolver.New(resolver.Options{Store: store, Remote: composite, Clock: a.Clock}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting.Telegram
	if !cfg.Enabled {
		return alerting.NewLogNotifier(a.Logger)
	}
	notifier, err := alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:      cfg.BotToken,
		DefaultChatID: cfg.ChatID,
		Recipients:    cfg.Recipients,
		APIBase:       cfg.APIBase,
	}, a.Logger)
	if err != nil {
		a.Logger.Error().Err(err).Msg("telegram notifier unavailable; falling back to log delivery")
		return alerting.NewLogNotifier(a.Logger)
	}
	return notifier
}

func (a *App) newDispatcher(store *storage.Store) *alerting.Dispatcher {
	return alerting.NewDispatcher(alerting.DispatcherOptions{
		Notifier:  a.newNotifier(),
		Events:    store,
		Workers:   a.Config.Alerting.Workers,
		QueueSize: a.Config.Alerting.QueueSize,
	}, a.Logger)
}

func (a *App) newEvaluator(store *storage.Store, dispatch alerting.Enqueuer) (*alerting.Evaluator, error) {
	return alerting.NewEvaluator(alerting.EvaluatorOptions{
		Alerts:            store,
		Observations:      store,
		Dispatch:          dispatch,
		Clock:             a.Clock,
		DedupWindow:       a.Config.Alerting.DedupWindow,
		Lookback:          a.Config.Pricing.Lookback,
		DefaultWindowDays: a.Config.Pricing.TrendWindowDays,
	}, a.Logger)
}

func (a *App) newService(store *storage.Store, prices provider.PriceProvider, alerts service.AlertEvaluator, sched *scheduler.Scheduler) (*service.Service, error) {
	var locker storage.AdvisoryLocker
	if store != nil && store.Dialect() == storage.DialectPostgres {
		locker = store
	}
	return service.New(service.Options{
		Items:           store,
		Observations:    store,
		Prices:          prices,
		Alerts:          alerts,
		Locker:          locker,
		Scheduler:       sched,
		Clock:           a.Clock,
		LockKey:         a.Config.Scheduler.AdvisoryLockKey,
		BatchSize:       a.Config.Refresh.BatchSize,
		InterBatchDelay: a.Config.Refresh.InterBatchDelay,
		ItemTimeout:     a.Config.Refresh.ItemTimeout,
		Freshness:       a.Config.Refresh.Freshness,
		Lookback:        a.Config.Pricing.Lookback,
		TrendWindowDays: a.Config.Pricing.TrendWindowDays,
		ForecastDays:    a.Config.Pricing.ForecastDays,
	}, a.Logger)
}

// pipeline holds everything a refresh needs.
type pipeline struct {
	store      *storage.Store
	dispatcher *alerting.Dispatcher
	evaluator  *alerting.Evaluator
	service    *service.Service
}

func (p *pipeline) close() {
	if p.dispatcher != nil {
		p.dispatcher.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}

// newPipeline fails with a ConfigurationError when no price source is configured.
func (a *App) newPipeline(ctx context.Context, sched *scheduler.Scheduler) (*pipeline, error) {
	_, prices := a.newProviders(a.newLimiter())
	composite, err := aggregate.NewPrices(prices, a.Logger)
	if err != nil {
		return nil, err
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	p := &pipeline{store: store}

	var dispatch alerting.Enqueuer
	if a.Config.Alerting.Enabled {
		p.dispatcher = a.newDispatcher(store)
		dispatch = p.dispatcher
	}
	p.evaluator, err = a.newEvaluator(store, dispatch)
	if err != nil {
		p.close()
		return nil, err
	}

	var alerts service.AlertEvaluator
	if a.Config.Alerting.Enabled {
		alerts = p.evaluator
	}
	p.service, err = a.newService(store, composite, alerts, sched)
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
		Clock:        a.Clock,
	}, a.Logger)
	if err != nil {
		return err
	}

	p, err := a.newPipeline(ctx, sched)
	if err != nil {
		return err
	}
	defer p.close()

	if p.dispatcher != nil {
		if n, err := p.dispatcher.Redeliver(ctx, p.store, a.Config.Alerting.QueueSize); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to queue unsent notifications")
		} else if n > 0 {
			a.Logger.Info().Int("events", n).Msg("re-queued unsent notifications")
		}
	}

	a.Logger.Info().Msg("starting refresh service")
	err = p.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}
