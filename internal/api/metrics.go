package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "hnode2"

// Config update results.
const (
	ConfigUpdateApplied  = "applied"
	ConfigUpdateRejected = "rejected"
	ConfigUpdateFailed   = "failed"
)

// Metrics holds the Prometheus collectors exported on /metrics.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	configUpdates *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// NewMetrics creates and registers the API collectors on reg.
// When reg is nil a private registry is created with the Go and process
// collectors added.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Dispatched operations by endpoint set, operation and response status",
		}, []string{"dispatch_id", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of dispatched operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatch_id", "operation"}),
		configUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "config_updates_total",
			Help:      "Device configuration updates by result",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.configUpdates, m.rateLimited)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveOperation records one dispatched operation.
func (m *Metrics) ObserveOperation(dispatchID, opID string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(dispatchID, opID, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(dispatchID, opID).Observe(d.Seconds())
}

// ObserveConfigUpdate records one configuration update attempt.
func (m *Metrics) ObserveConfigUpdate(result string) {
	if m == nil {
		return
	}
	m.configUpdates.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
