package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collectible-pricing/internal/models"
	"collectible-pricing/internal/storage"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 64
	defaultSendTimeout = 15 * time.Second
)

// DeliveryResult is the outcome of one notification attempt.
type DeliveryResult struct {
	EventID string
	UserID  string
	Sent    int
	Err     error
}

// Marker records confirmed deliveries.
type Marker interface {
	MarkNotificationSent(ctx context.Context, eventID string) error
}

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Notifier    Notifier
	Events      Marker
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher delivers notifications on a bounded worker pool so that event
// persistence never waits on delivery.
type Dispatcher struct {
	notifier    Notifier
	events      Marker
	sendTimeout time.Duration
	queue       chan models.AlertEvent
	results     chan DeliveryResult
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
	logger      zerolog.Logger
}

var _ Enqueuer = (*Dispatcher)(nil)

// NewDispatcher starts the workers.
func NewDispatcher(opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(logger)
	}

	d := &Dispatcher{
		notifier:    opts.Notifier,
		events:      opts.Events,
		sendTimeout: opts.SendTimeout,
		queue:       make(chan models.AlertEvent, opts.QueueSize),
		results:     make(chan DeliveryResult, opts.QueueSize),
		logger:      logger.With().Str("component", "alert_dispatcher").Logger(),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue schedules delivery without blocking. It returns false when the queue
// is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(event models.AlertEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		return false
	}
}

// Results exposes delivery outcomes. Results are dropped when nobody reads them.
func (d *Dispatcher) Results() <-chan DeliveryResult {
	return d.results
}

// Close stops accepting events, drains the queue and closes Results.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	close(d.results)
}

// Redeliver re-queues events whose notification was never confirmed.
func (d *Dispatcher) Redeliver(ctx context.Context, store storage.AlertStore, limit int) (int, error) {
	events, err := store.ListAlertEvents(ctx, storage.EventFilter{UnsentOnly: true, Limit: limit})
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, ev := range events {
		if !d.Enqueue(ev) {
			break
		}
		queued++
	}
	return queued, nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.publish(d.deliver(event))
	}
}

func (d *Dispatcher) deliver(event models.AlertEvent) DeliveryResult {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	title, body, data := RenderEvent(event)
	res, err := d.notifier.Notify(ctx, event.UserID, title, body, data)
	result := DeliveryResult{EventID: event.ID, UserID: event.UserID, Sent: res.Sent, Err: err}
	if err != nil {
		d.logger.Error().Err(err).Str("event", event.ID).Str("user", event.UserID).Msg("告警发送失败")
		return result
	}
	if res.Sent == 0 || d.events == nil {
		return result
	}
	if err := d.events.MarkNotificationSent(ctx, event.ID); err != nil {
		d.logger.Error().Err(err).Str("event", event.ID).Msg("failed to mark notification sent")
		result.Err = err
	}
	return result
}

func (d *Dispatcher) publish(result DeliveryResult) {
	select {
	case d.results <- result:
	default:
		d.logger.Debug().Str("event", result.EventID).Msg("delivery result dropped")
	}
}
