// Package metrics exposes the node's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram/gauge the node publishes.
type Metrics struct {
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	StreamEventsTotal  *prometheus.CounterVec
	StreamDedupDropped *prometheus.CounterVec
	ExchangeCallTotal  *prometheus.CounterVec
	OrchestratorErrors *prometheus.CounterVec
	AccountState       prometheus.Gauge
	HeartbeatsTotal    prometheus.Counter
}

// New registers and returns the node's metrics. serviceName namespaces
// every metric name, following the teacher's per-service naming scheme.
func New(serviceName string) *Metrics {
	return &Metrics{
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_commands_total",
				Help: "Total number of AMQP commands processed, by event key and outcome.",
			},
			[]string{"event_key", "outcome"},
		),
		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_command_duration_seconds",
				Help:    "Command processing duration in seconds, by event key.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_key"},
		),
		StreamEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_stream_events_total",
				Help: "Total number of exchange stream events emitted, by channel.",
			},
			[]string{"channel"},
		),
		StreamDedupDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_stream_dedup_dropped_total",
				Help: "Total number of unchanged stream snapshots dropped by dedup, by channel.",
			},
			[]string{"channel"},
		),
		ExchangeCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_exchange_calls_total",
				Help: "Total number of exchange adapter calls, by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		OrchestratorErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_orchestrator_errors_total",
				Help: "Total number of compound order legs that reported an error, by leg.",
			},
			[]string{"leg"},
		),
		AccountState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_account_connected",
				Help: "1 if the bound account is CONNECTED, 0 if DISCONNECTED.",
			},
		),
		HeartbeatsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_heartbeats_total",
				Help: "Total number of account heartbeats published.",
			},
		),
	}
}

// RecordCommand records the outcome and latency of one processed command.
func (m *Metrics) RecordCommand(eventKey, outcome string, d time.Duration) {
	m.CommandsTotal.WithLabelValues(eventKey, outcome).Inc()
	m.CommandDuration.WithLabelValues(eventKey).Observe(d.Seconds())
}
