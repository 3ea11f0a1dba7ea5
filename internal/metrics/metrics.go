// Package metrics exposes Prometheus instrumentation for sessions,
// operations and connections. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors recorded by the server.
type Metrics struct {
	registry *prometheus.Registry

	operationsApplied  *prometheus.CounterVec
	operationsRejected *prometheus.CounterVec
	applyDuration      prometheus.Histogram
	sessionsOpened     prometheus.Counter
	sessionsEnded      *prometheus.CounterVec
	liveSessions       prometheus.Gauge
	connections        prometheus.Gauge
	broadcastDropped   prometheus.Counter
}

// New registers the collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "inkwell"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		operationsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_applied_total",
			Help:      "Operations committed to a session log",
		}, []string{"target"}),
		operationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Operations rejected before commit",
		}, []string{"reason"}),
		applyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_apply_duration_seconds",
			Help:      "Time from receiving an operation to its commit",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Collaborative sessions created",
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions that were saved or swept",
		}, []string{"reason"}),
		liveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Sessions held in memory",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open editor connections",
		}),
		broadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_subscribers_total",
			Help:      "Subscribers dropped because their send queue was full",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OperationApplied counts a committed operation on target and observes how
// long it took to apply.
func (m *Metrics) OperationApplied(target string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsApplied.WithLabelValues(target).Inc()
	m.applyDuration.Observe(elapsed.Seconds())
}

// OperationRejected counts a refused operation by reason.
func (m *Metrics) OperationRejected(reason string) {
	if m == nil {
		return
	}
	m.operationsRejected.WithLabelValues(reason).Inc()
}

// SessionOpened counts a newly created session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

// SessionEnded counts a session leaving the live set, by reason.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// SetLiveSessions sets the number of sessions held in memory.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

// ConnectionOpened tracks a new editor connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks an editor connection going away.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SubscriberDropped counts a subscriber dropped for falling behind.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}
