// Package ratelimit serialises requests per external source, spacing them by a
// requests-per-minute interval and rejecting work once the daily quota is spent.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"collectible-pricing/internal/clock"
)

// ErrQuotaExceeded is matched by every QuotaExceededError.
var ErrQuotaExceeded = errors.New("daily request quota exceeded")

// QuotaExceededError is returned when a source has used its requests for the day.
type QuotaExceededError struct {
	Source string
	Limit  int
	Day    string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("source %s exhausted %d requests for %s", e.Source, e.Limit, e.Day)
}

// Is lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Limits configure one source. Zero values disable the respective check.
type Limits struct {
	RequestsPerMinute int
	RequestsPerDay    int
}

// Conservative and Permissive are the typical published limits of the catalog APIs.
var (
	Conservative = Limits{RequestsPerMinute: 4, RequestsPerDay: 100}
	Permissive   = Limits{RequestsPerMinute: 10, RequestsPerDay: 1000}
)

// Options tune limiter construction.
type Options struct {
	Default Limits
	Sources map[string]Limits
	Clock   clock.Clock
}

// Limiter owns one queue and counter per source. Sources never block each other.
type Limiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	defaults Limits
	limits   map[string]Limits
	states   map[string]*sourceState
	logger   zerolog.Logger
}

type sourceState struct {
	name    string
	limits  Limits
	pacer   *rate.Limiter
	day     string
	count   int
	queue   []*task
	running bool
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// New constructs a Limiter.
func New(opts Options, logger zerolog.Logger) *Limiter {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	limits := make(map[string]Limits, len(opts.Sources))
	for name, l := range opts.Sources {
		limits[name] = l
	}
	return &Limiter{
		clock:    clk,
		defaults: opts.Default,
		limits:   limits,
		states:   make(map[string]*sourceState),
		logger:   logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// SetLimits registers or replaces the limits of one source.
// Counters already accumulated for the day are kept.
func (l *Limiter) SetLimits(source string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[source] = limits
	if st, ok := l.states[source]; ok {
		st.limits = limits
		st.pacer = newPacer(limits)
	}
}

// Usage reports how many requests the source has consumed today.
func (l *Limiter) Usage(source string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[source]
	if !ok {
		return 0
	}
	st.rollDay(l.clock.Now())
	return st.count
}

// Submit queues fn for the source and returns a channel that receives its result.
// Requests of one source run in submission order.
func (l *Limiter) Submit(ctx context.Context, source string, fn func(context.Context) error) <-chan error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	st := l.stateLocked(source)
	st.rollDay(l.clock.Now())
	if st.exhausted() {
		l.mu.Unlock()
		t.done <- st.quotaError()
		return t.done
	}
	st.queue = append(st.queue, t)
	if !st.running {
		st.running = true
		go l.drain(st)
	}
	l.mu.Unlock()

	return t.done
}

// Execute runs fn through the source queue and waits for its result.
func (l *Limiter) Execute(ctx context.Context, source string, fn func(context.Context) error) error {
	done := l.Submit(ctx, source, fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do is Execute for functions that produce a value.
// A caller that gave up on ctx gets the zero value; fn's result is never read.
func Do[T any](ctx context.Context, l *Limiter, source string, fn func(context.Context) (T, error)) (T, error) {
	values := make(chan T, 1)
	err := l.Execute(ctx, source, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		values <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-values, nil
}

func (l *Limiter) stateLocked(source string) *sourceState {
	if st, ok := l.states[source]; ok {
		return st
	}
	limits, ok := l.limits[source]
	if !ok {
		limits = l.defaults
	}
	st := &sourceState{name: source, limits: limits, pacer: newPacer(limits)}
	l.states[source] = st
	return st
}

func (l *Limiter) drain(st *sourceState) {
	for {
		l.mu.Lock()
		if len(st.queue) == 0 {
			st.running = false
			l.mu.Unlock()
			return
		}
		t := st.queue[0]
		st.queue[0] = nil
		st.queue = st.queue[1:]

		if err := t.ctx.Err(); err != nil {
			l.mu.Unlock()
			t.done <- err
			continue
		}

		now := l.clock.Now()
		st.rollDay(now)
		if st.exhausted() {
			rejected := append([]*task{t}, st.queue...)
			st.queue = nil
			qerr := st.quotaError()
			l.mu.Unlock()

			l.logger.Warn().Str("source", st.name).Int("rejected", len(rejected)).Int("limit", st.limits.RequestsPerDay).Msg("daily quota exhausted; rejecting queued requests")
			for _, r := range rejected {
				r.done <- qerr
			}
			continue
		}

		st.count++
		var reservation *rate.Reservation
		var delay time.Duration
		if st.pacer != nil {
			reservation = st.pacer.ReserveN(now, 1)
			delay = reservation.DelayFrom(now)
		}
		l.mu.Unlock()

		if delay > 0 {
			l.logger.Debug().Str("source", st.name).Dur("wait", delay).Msg("pacing request")
			if err := l.clock.Sleep(t.ctx, delay); err != nil {
				l.mu.Lock()
				st.count--
				reservation.CancelAt(l.clock.Now())
				l.mu.Unlock()
				t.done <- err
				continue
			}
		}

		t.done <- t.fn(t.ctx)
	}
}

func newPacer(limits Limits) *rate.Limiter {
	if limits.RequestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(limits.RequestsPerMinute)/60.0), 1)
}

func (st *sourceState) rollDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if st.day != day {
		st.day = day
		st.count = 0
	}
}

func (st *sourceState) exhausted() bool {
	return st.limits.RequestsPerDay > 0 && st.count >= st.limits.RequestsPerDay
}

func (st *sourceState) quotaError() error {
	return &QuotaExceededError{Source: st.name, Limit: st.limits.RequestsPerDay, Day: st.day}
}
