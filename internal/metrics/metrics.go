package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric the service exports. A nil *Collector is
// valid and records nothing, which keeps tests and tools free of registries.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	WorkflowTotal  *prometheus.CounterVec
	SlotCacheTotal *prometheus.CounterVec
	NotifyTotal    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

func NewCollector(reg *prometheus.Registry, namespace string) *Collector {
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		WorkflowTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "workflow_total",
			Help:      "Scheduling workflow invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		SlotCacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_cache_total",
			Help:      "Slot listing cache lookups by result (hit, miss, error).",
		}, []string{"result"}),

		NotifyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification messages by kind and result. Alert if dropped is non-zero.",
		}, []string{"kind", "result"}),

		gatherer: reg,
	}
}

func (c *Collector) Workflow(operation, outcome string) {
	if c == nil {
		return
	}
	c.WorkflowTotal.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) SlotCache(result string) {
	if c == nil {
		return
	}
	c.SlotCacheTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Notify(kind, result string) {
	if c == nil {
		return
	}
	c.NotifyTotal.WithLabelValues(kind, result).Inc()
}

// Handler serves the registry the collector was built on.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
