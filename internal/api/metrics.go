package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

// Metrics holds the Prometheus collectors exported by the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LifecycleEvents *prometheus.CounterVec
	IdempotencyHits *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paycore_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_lifecycle_events_total",
			Help: "Published payment lifecycle events by topic.",
		}, []string{"topic"}),
		IdempotencyHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_idempotency_results_total",
			Help: "Idempotency guard outcomes by scope.",
		}, []string{"scope", "outcome"}),
	}
	reg.MustRegister(metrics.RequestsTotal, metrics.RequestDuration, metrics.LifecycleEvents, metrics.IdempotencyHits)
	return metrics
}

// ObserveLifecycle is a membus subscriber counting published events.
func (metrics *Metrics) ObserveLifecycle(event payment.LifecycleEvent) {
	metrics.LifecycleEvents.WithLabelValues(event.Topic).Inc()
}
