// Package metrics holds the Prometheus series exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_ingest_total",
			Help: "Inbound webhook payloads by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	evaluatorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_evaluator_ticks_total",
			Help: "Lifecycle evaluator ticks by result (completed, skipped, failed)",
		},
		[]string{"result"},
	)
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_transitions_total",
			Help: "Signal lifecycle transitions by event type",
		},
		[]string{"event"},
	)
	priceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_price_lookups_total",
			Help: "Price lookups by provider and result",
		},
		[]string{"provider", "result"},
	)
	priceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_relay_price_lookup_seconds",
			Help:    "Duration of price lookups in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_fanout_messages_total",
			Help: "Fan-out messages by result (queued, dropped)",
		},
		[]string{"result"},
	)
	connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_relay_fanout_connections",
			Help: "Live fan-out connections",
		},
	)
	storedSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_relay_store_signals",
			Help: "Signals currently held in the in-memory window",
		},
	)
)

// RecordIngest records the outcome of one inbound payload.
func RecordIngest(source, outcome string) {
	ingestTotal.WithLabelValues(source, outcome).Inc()
}

// RecordTick records an evaluator tick result.
func RecordTick(result string) {
	evaluatorTicks.WithLabelValues(result).Inc()
}

// RecordTransition records a committed lifecycle transition.
func RecordTransition(event string) {
	transitions.WithLabelValues(event).Inc()
}

// RecordPriceLookup records a price lookup and its latency.
func RecordPriceLookup(provider, result string, seconds float64) {
	priceLookups.WithLabelValues(provider, result).Inc()
	priceLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordDelivery records a per-connection enqueue result.
func RecordDelivery(result string) {
	deliveries.WithLabelValues(result).Inc()
}

// AddConnections adjusts the live connection gauge.
func AddConnections(delta float64) {
	connections.Add(delta)
}

// SetStoredSignals sets the in-memory window size.
func SetStoredSignals(n int) {
	storedSignals.Set(float64(n))
}
