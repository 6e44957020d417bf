// Package lifecycle advances active signals through their stop-loss and
// take-profit levels on a fixed interval.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/Cyvadra/signal-relay/internal/store"
	"github.com/Cyvadra/signal-relay/quote"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrTickInProgress is returned when a tick is already running here or on another instance
var ErrTickInProgress = errors.New("lifecycle tick already in progress")

var errUnchanged = errors.New("unchanged")

const lockKey = "lifecycle:tick"

// SignalStore is the subset of the store the evaluator needs
type SignalStore interface {
	Get(ctx context.Context, id string) (*models.Signal, error)
	ListActive(ctx context.Context, f store.Filter) ([]*models.Signal, error)
	Update(ctx context.Context, id string, mutate store.Mutation) (*models.Signal, error)
}

// PriceResolver resolves the current price of a symbol
type PriceResolver interface {
	Resolve(ctx context.Context, req quote.Request) (quote.Quote, error)
}

// Notifier receives every committed transition
type Notifier interface {
	Publish(ctx context.Context, event models.Event) error
}

// Locker serializes ticks across instances
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Options configures an Evaluator
type Options struct {
	Store    SignalStore
	Prices   PriceResolver
	Notifier Notifier
	Locker   Locker
	Interval time.Duration
	Workers  int
	LockTTL  time.Duration
	// RunOnStart triggers a tick as soon as Start is called.
	RunOnStart bool
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Report summarizes one tick
type Report struct {
	Evaluated     int           `json:"evaluated"`
	Advanced      int           `json:"advanced"`
	Closed        int           `json:"closed"`
	PriceFailures int           `json:"price_failures"`
	Skipped       bool          `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Evaluator runs the periodic lifecycle check
type Evaluator struct {
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an evaluator
func New(opts Options) *Evaluator {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Evaluator{opts: opts, log: opts.Logger, now: now}
}

// RunOnce evaluates every active directional signal once. Overlapping calls
// return ErrTickInProgress immediately.
func (e *Evaluator) RunOnce(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Debug().Msg("lifecycle tick skipped: previous tick still running")
		metrics.RecordTick("skipped")
		return Report{Skipped: true}, ErrTickInProgress
	}
	defer e.running.Store(false)

	if e.opts.Locker != nil {
		ok, err := e.opts.Locker.TryLock(ctx, lockKey, e.opts.LockTTL)
		if err != nil {
			metrics.RecordTick("failed")
			return Report{}, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			e.log.Debug().Msg("lifecycle tick skipped: lock held by another instance")
			metrics.RecordTick("skipped")
			return Report{Skipped: true}, ErrTickInProgress
		}
		defer func() {
			if err := e.opts.Locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				e.log.Warn().Err(err).Msg("failed to release tick lock")
			}
		}()
	}

	start := e.now()
	signals, err := e.opts.Store.ListActive(ctx, store.Filter{DirectionalOnly: true})
	if err != nil {
		metrics.RecordTick("failed")
		return Report{}, fmt.Errorf("list active signals: %w", err)
	}

	var evaluated, advanced, closed, failures atomic.Int64
	prices := newTickPrices(e.opts.Prices)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, sig := range signals {
		sig := sig
		g.Go(func() error {
			d, ok := e.evaluate(gctx, prices, sig)
			if !ok {
				failures.Add(1)
				return nil
			}
			evaluated.Add(1)
			switch {
			case d.Closes():
				closed.Add(1)
			case d.Changed():
				advanced.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Evaluated:     int(evaluated.Load()),
		Advanced:      int(advanced.Load()),
		Closed:        int(closed.Load()),
		PriceFailures: int(failures.Load()),
		Duration:      e.now().Sub(start),
	}
	metrics.RecordTick("completed")
	e.log.Info().
		Int("active", len(signals)).
		Int("evaluated", rep.Evaluated).
		Int("advanced", rep.Advanced).
		Int("closed", rep.Closed).
		Int("price_failures", rep.PriceFailures).
		Dur("duration", rep.Duration).
		Msg("lifecycle tick completed")
	return rep, ctx.Err()
}

// evaluate prices one signal and commits any transition. ok is false when no
// price could be resolved.
func (e *Evaluator) evaluate(ctx context.Context, prices *tickPrices, sig *models.Signal) (Decision, bool) {
	q, err := prices.Resolve(ctx, quote.Request{
		Symbol:     sig.Symbol,
		AssetClass: sig.AssetClass,
		Reference:  sig.EntryPrice,
	})
	if err != nil {
		e.log.Debug().Err(err).Str("signal_id", sig.ID).Str("symbol", sig.Symbol).Msg("skipping signal: no price")
		return Decision{}, false
	}

	var d Decision
	committed, err := e.opts.Store.Update(ctx, sig.ID, func(s *models.Signal) error {
		// re-evaluate against the current copy; another writer may have moved it
		d = Evaluate(s, q.Price)
		if !d.Changed() {
			return errUnchanged
		}
		d.Apply(s)
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return Decision{Price: q.Price}, true
	case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrNotFound):
		return Decision{Price: q.Price}, true
	case err != nil:
		e.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("failed to apply transition")
		return Decision{Price: q.Price}, true
	}

	e.log.Info().
		Str("signal_id", committed.ID).
		Str("symbol", committed.Symbol).
		Str("event", string(d.Event)).
		Float64("price", q.Price).
		Str("price_source", q.Provider).
		Int("target_index", committed.CurrentTargetIndex).
		Str("close_reason", string(committed.CloseReason)).
		Msg("signal transition")
	e.publish(ctx, d.Event, committed, &q.Price)
	return d, true
}

// CloseManually closes an active signal. Without an explicit price the current
// price is resolved; if that fails the signal closes without a close price.
func (e *Evaluator) CloseManually(ctx context.Context, id string, price *float64) (*models.Signal, error) {
	if price != nil && *price <= 0 {
		return nil, fmt.Errorf("%w: close price must be positive", store.ErrInvalidInput)
	}

	closeAt := price
	if closeAt == nil && e.opts.Prices != nil {
		sig, err := e.opts.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		q, err := e.opts.Prices.Resolve(ctx, quote.Request{Symbol: sig.Symbol, AssetClass: sig.AssetClass, Reference: sig.EntryPrice})
		if err == nil {
			closeAt = &q.Price
		} else {
			e.log.Debug().Err(err).Str("signal_id", id).Msg("closing without a close price")
		}
	}

	committed, err := e.opts.Store.Update(ctx, id, func(s *models.Signal) error {
		s.Status = models.StatusClosed
		s.CloseReason = models.CloseManual
		if closeAt != nil {
			s.ClosePrice = models.Float(*closeAt)
			s.RealizedPnlPercent = PnlPercent(s.Side, s.EntryPrice, *closeAt)
		}
		return nil
	})
	if err != nil {
		return committed, err
	}

	e.log.Info().Str("signal_id", id).Msg("signal closed manually")
	e.publish(ctx, models.EventSignalClosed, committed, committed.ClosePrice)
	return committed, nil
}

// Cancel moves an active signal to cancelled
func (e *Evaluator) Cancel(ctx context.Context, id string) (*models.Signal, error) {
	committed, err := e.opts.Store.Update(ctx, id, func(s *models.Signal) error {
		s.Status = models.StatusCancelled
		s.CloseReason = models.CloseManual
		return nil
	})
	if err != nil {
		return committed, err
	}

	e.log.Info().Str("signal_id", id).Msg("signal cancelled")
	e.publish(ctx, models.EventSignalCancelled, committed, nil)
	return committed, nil
}

func (e *Evaluator) publish(ctx context.Context, typ models.EventType, sig *models.Signal, price *float64) {
	metrics.RecordTransition(string(typ))
	if e.opts.Notifier == nil {
		return
	}
	event := models.Event{Type: typ, Signal: sig, Price: price, At: e.now().UTC()}
	if err := e.opts.Notifier.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.log.Warn().Err(err).Str("signal_id", sig.ID).Str("event", string(typ)).Msg("failed to publish transition")
	}
}

// Start runs ticks every Interval until Stop is called or ctx is done
func (e *Evaluator) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.opts.RunOnStart {
			e.tick(ctx)
		}

		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()

	e.log.Info().Dur("interval", e.opts.Interval).Int("workers", e.opts.Workers).Msg("lifecycle evaluator started")
}

// tick runs asynchronously so a slow tick does not delay the ticker; the
// running guard drops the overlap.
func (e *Evaluator) tick(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// in-flight ticks finish even after Stop
		if _, err := e.RunOnce(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTickInProgress) {
			e.log.Error().Err(err).Msg("lifecycle tick failed")
		}
	}()
}

// Stop stops scheduling new ticks and waits for the in-flight one
func (e *Evaluator) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.log.Info().Msg("lifecycle evaluator stopped")
}

// tickPrices resolves each symbol at most once per tick and shares the
// result, failure included, with every signal on that symbol.
type tickPrices struct {
	resolver PriceResolver

	mu      sync.Mutex
	entries map[tickPriceKey]*tickPrice
}

type tickPriceKey struct {
	symbol string
	class  models.AssetClass
}

type tickPrice struct {
	once  sync.Once
	quote quote.Quote
	err   error
}

func newTickPrices(r PriceResolver) *tickPrices {
	return &tickPrices{resolver: r, entries: make(map[tickPriceKey]*tickPrice)}
}

func (t *tickPrices) Resolve(ctx context.Context, req quote.Request) (quote.Quote, error) {
	key := tickPriceKey{symbol: req.Symbol, class: req.AssetClass}
	t.mu.Lock()
	p, ok := t.entries[key]
	if !ok {
		p = &tickPrice{}
		t.entries[key] = p
	}
	t.mu.Unlock()

	p.once.Do(func() {
		p.quote, p.err = t.resolver.Resolve(ctx, req)
	})
	return p.quote, p.err
}
