// Package metrics holds the Prometheus instruments for the aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the aggregation daemon.
type Metrics struct {
	MessagesTotal        *prometheus.CounterVec
	InvalidPayloadsTotal *prometheus.CounterVec
	SnapshotGeneration   prometheus.Gauge
	BusConnected         prometheus.Gauge
	CommandsTotal        *prometheus.CounterVec
	CommandPublishErrors prometheus.Counter
	ReconcileRunsTotal   prometheus.Counter
	ReconcileFailures    prometheus.Counter
	ReconcileDuration    prometheus.Histogram
	AnomaliesSuppressed  prometheus.Counter
	AnomaliesShown       prometheus.Counter
}

// New creates a Metrics instance registered on reg. Pass a fresh registry
// in tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_messages_total",
			Help: "Total number of bus messages received, by subject",
		}, []string{"subject"}),
		InvalidPayloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_invalid_payloads_total",
			Help: "Total number of payloads dropped as undecodable or invalid, by subject",
		}, []string{"subject"}),
		SnapshotGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_snapshot_generation",
			Help: "Generation counter of the current snapshot",
		}),
		BusConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_bus_connected",
			Help: "1 when the bus connection is up, 0 otherwise",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_commands_total",
			Help: "Total number of commands dispatched, by command name",
		}, []string{"command"}),
		CommandPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_command_publish_errors_total",
			Help: "Total number of command publish failures",
		}),
		ReconcileRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_reconcile_runs_total",
			Help: "Total number of reconciliation pulls attempted",
		}),
		ReconcileFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_reconcile_failures_total",
			Help: "Total number of reconciliation pulls that failed",
		}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregator_reconcile_duration_seconds",
			Help:    "Duration of reconciliation pulls",
			Buckets: prometheus.DefBuckets,
		}),
		AnomaliesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_anomalies_suppressed_total",
			Help: "Total number of anomalies suppressed by detection correlation",
		}),
		AnomaliesShown: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_anomalies_shown_total",
			Help: "Total number of anomalies that passed detection correlation",
		}),
	}
}

// IncMessage counts one received message on a subject.
func (m *Metrics) IncMessage(subject string) {
	m.MessagesTotal.WithLabelValues(subject).Inc()
}

// IncInvalidPayload counts one dropped payload on a subject.
func (m *Metrics) IncInvalidPayload(subject string) {
	m.InvalidPayloadsTotal.WithLabelValues(subject).Inc()
}

// SetGeneration records the current snapshot generation.
func (m *Metrics) SetGeneration(gen int64) {
	m.SnapshotGeneration.Set(float64(gen))
}

// SetBusConnected records the bus connection state.
func (m *Metrics) SetBusConnected(connected bool) {
	if connected {
		m.BusConnected.Set(1)
	} else {
		m.BusConnected.Set(0)
	}
}

// IncCommand counts one dispatched command.
func (m *Metrics) IncCommand(name string) {
	m.CommandsTotal.WithLabelValues(name).Inc()
}

// IncCommandPublishError counts one failed command publish.
func (m *Metrics) IncCommandPublishError() {
	m.CommandPublishErrors.Inc()
}

// IncReconcileRun counts one reconciliation pull.
func (m *Metrics) IncReconcileRun() {
	m.ReconcileRunsTotal.Inc()
}

// IncReconcileFailure counts one failed reconciliation pull.
func (m *Metrics) IncReconcileFailure() {
	m.ReconcileFailures.Inc()
}

// ObserveReconcileDuration records the duration of one pull in seconds.
func (m *Metrics) ObserveReconcileDuration(seconds float64) {
	m.ReconcileDuration.Observe(seconds)
}
