// Package telemetry exposes Prometheus instrumentation for the engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. Operation results are labeled by
// outcome so dashboards can separate success, retryable failure, and
// terminal failure.
type Metrics struct {
	registry *prometheus.Registry

	StoreOperations *prometheus.CounterVec
	RetryAttempts   *prometheus.CounterVec
	SweepExpired    prometheus.Counter
	SweepFailed     prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbaccess",
			Name:      "store_operations_total",
			Help:      "Managed store operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbaccess",
			Name:      "store_retry_attempts_total",
			Help:      "Retries performed against the managed store by operation.",
		}, []string{"operation"}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dbaccess",
			Name:      "sweep_expired_total",
			Help:      "Permissions finalized as expired by the sweep.",
		}),
		SweepFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dbaccess",
			Name:      "sweep_failures_total",
			Help:      "Permissions the sweep failed to finalize.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbaccess",
			Name:      "events_published_total",
			Help:      "Lifecycle events handed to the dispatcher by type.",
		}, []string{"event_type"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
