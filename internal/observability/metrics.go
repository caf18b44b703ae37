// Package observability exposes Prometheus metrics for the patrol
// coordination service.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors for the service. One instance is shared by
// the API controller, the panic dispatcher and the queue drain worker.
type Metrics struct {
	registry *prometheus.Registry

	HeartbeatsApplied prometheus.Counter
	HeartbeatsDropped prometheus.Counter

	ScansAccepted prometheus.Counter
	ScansRejected *prometheus.CounterVec

	PanicTriggered     prometheus.Counter
	PanicResponders    prometheus.Histogram
	DispatchDuration   prometheus.Histogram
	PresenceOnlineSize prometheus.GaugeFunc

	QueueDelivered prometheus.Counter
	QueueDropped   prometheus.Counter
	QueueRetries   prometheus.Counter
}

// NewMetrics creates a metrics set on a fresh registry. onlineFn reports the
// current presence registry size; pass nil when no registry exists (agent
// mode).
func NewMetrics(onlineFn func() int) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		HeartbeatsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_heartbeats_applied_total",
			Help: "Heartbeats accepted into the presence registry",
		}),
		HeartbeatsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_heartbeats_dropped_total",
			Help: "Heartbeats dropped as out-of-order or invalid",
		}),
		ScansAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_scans_accepted_total",
			Help: "Checkpoint scans accepted",
		}),
		ScansRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardtrack_scans_rejected_total",
			Help: "Checkpoint scans rejected, by reason",
		}, []string{"reason"}),
		PanicTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_panic_alerts_total",
			Help: "Panic alerts persisted",
		}),
		PanicResponders: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardtrack_panic_responders",
			Help:    "Nearby responders found per panic dispatch",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardtrack_dispatch_duration_seconds",
			Help:    "Time from panic trigger to dispatch fan-out completion",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_queue_actions_delivered_total",
			Help: "Offline queue actions confirmed by the server",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_queue_actions_dropped_total",
			Help: "Offline queue actions dropped as permanently invalid",
		}),
		QueueRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardtrack_queue_retries_total",
			Help: "Offline queue drain cycles halted by a transient failure",
		}),
	}

	if onlineFn != nil {
		m.PresenceOnlineSize = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "guardtrack_presence_online",
			Help: "Guards currently held in the presence registry",
		}, func() float64 { return float64(onlineFn()) })
	}

	return m
}

// Handler returns the HTTP handler serving this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
