package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the service. Each collector owns
// its registry, so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Edit metrics
	Reconciliations *prometheus.CounterVec
	Saves           *prometheus.CounterVec
	AuxiliaryItems  prometheus.Counter

	// Query metrics
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation outcomes: new, update or an error code",
		}, []string{"outcome"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Finished saves by result code",
		}, []string{"code"}),
		AuxiliaryItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auxiliary_entities_created_total",
			Help:      "Auxiliary entities created by reconciliation edits",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by name and status",
		}, []string{"query", "status"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Reconciliations,
		c.Saves,
		c.AuxiliaryItems,
		c.Queries,
		c.QueryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveReconciliation implements ports.EditMetrics
func (c *Collector) ObserveReconciliation(outcome string) {
	c.Reconciliations.WithLabelValues(outcome).Inc()
}

// ObserveSave implements ports.EditMetrics
func (c *Collector) ObserveSave(code string, auxiliaryCreated int) {
	if code == "" {
		code = "OK"
	}
	c.Saves.WithLabelValues(code).Inc()
	c.AuxiliaryItems.Add(float64(auxiliaryCreated))
}

// ObserveQuery implements bus.Observer
func (c *Collector) ObserveQuery(name string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Queries.WithLabelValues(name, status).Inc()
	c.QueryDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
