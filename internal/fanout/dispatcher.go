package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/rs/zerolog"
)

// Sink receives every published event in addition to websocket clients
type Sink interface {
	Name() string
	Send(ctx context.Context, event models.Event) error
}

// Deliverer is the websocket side of a Dispatcher
type Deliverer interface {
	Deliver(ctx context.Context, event models.Event, target Target) Delivery
}

// Dispatcher routes events by signal scope and forwards them to sinks
type Dispatcher struct {
	hub         Deliverer
	sinks       []Sink
	fallback    bool
	sinkTimeout time.Duration
	log         zerolog.Logger
	wg          sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithSinks adds downstream sinks
func WithSinks(sinks ...Sink) DispatcherOption {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sinks...) }
}

// WithFallbackBroadcast broadcasts private events whose subscriber is offline
func WithFallbackBroadcast(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.fallback = enabled }
}

// WithSinkTimeout bounds each sink call
func WithSinkTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sinkTimeout = timeout
		}
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a dispatcher over hub
func NewDispatcher(hub Deliverer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{hub: hub, sinkTimeout: 10 * time.Second, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TargetFor returns the delivery target for a signal: global signals are
// broadcast, private ones go to their subscriber
func TargetFor(sig *models.Signal, fallback bool) Target {
	if sig == nil || sig.IsGlobal() {
		return Target{Broadcast: true}
	}
	return Target{SubscriberID: sig.SubscriberID, FallbackBroadcast: fallback}
}

// Publish delivers event to connected clients and starts sink forwarding.
// It does not fail on delivery problems; those are logged.
func (d *Dispatcher) Publish(ctx context.Context, event models.Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	target := TargetFor(event.Signal, d.fallback)
	res := d.hub.Deliver(ctx, event, target)
	ev := d.log.Debug()
	if res.Dropped > 0 {
		ev = d.log.Warn()
	}
	ev.Str("event", string(event.Type)).
		Str("signal_id", signalID(event.Signal)).
		Bool("broadcast", target.Broadcast || res.Fallback).
		Int("queued", res.Queued).
		Int("dropped", res.Dropped).
		Bool("missed", res.Missed).
		Msg("event delivered")

	for _, sink := range d.sinks {
		sink := sink
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sinkTimeout)
			defer cancel()
			if err := sink.Send(sctx, event); err != nil {
				d.log.Warn().Err(err).
					Str("sink", sink.Name()).
					Str("event", string(event.Type)).
					Str("signal_id", signalID(event.Signal)).
					Msg("sink delivery failed")
			}
		}()
	}
	return nil
}

// Wait blocks until in-flight sink deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func signalID(sig *models.Signal) string {
	if sig == nil {
		return ""
	}
	return sig.ID
}
