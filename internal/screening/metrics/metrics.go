// Package metrics holds the Prometheus instruments for the screening
// orchestrator and the stream hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the screening subsystem.
type Metrics struct {
	QueriesDispatched  prometheus.Counter
	DispatchFailures   *prometheus.CounterVec
	ProviderCallbacks  *prometheus.CounterVec
	DuplicateCallbacks *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	TimeoutsForced     *prometheus.CounterVec
	EventsPublished    prometheus.Counter
	SubscribersPruned  prometheus.Counter
	LiveSubscribers    prometheus.Gauge
}

// New creates and registers all screening metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		QueriesDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_queries_dispatched_total",
			Help: "Total number of screening queries dispatched",
		}),
		DispatchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_dispatch_failures_total",
			Help: "Provider invocations that failed synchronously at dispatch time",
		}, []string{"provider"}),
		ProviderCallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_provider_callbacks_total",
			Help: "Provider callbacks applied, by provider and outcome",
		}, []string{"provider", "outcome"}),
		DuplicateCallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_duplicate_callbacks_total",
			Help: "Provider callbacks absorbed as duplicates",
		}, []string{"provider"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_provider_report_latency_seconds",
			Help:    "Time from dispatch to a provider's terminal report",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		TimeoutsForced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_provider_timeouts_total",
			Help: "Pending outcome slots forced to failed by the reaper",
		}, []string{"provider"}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_events_published_total",
			Help: "Aggregate-change events published to the stream hub",
		}),
		SubscribersPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_subscribers_pruned_total",
			Help: "Subscribers removed after a failed delivery",
		}),
		LiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_live_subscribers",
			Help: "Currently connected event stream subscribers",
		}),
	}
}

// ObserveProviderLatency records the dispatch-to-report latency for one
// provider. Nil-safe so services can run without metrics in tests.
func (m *Metrics) ObserveProviderLatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}
