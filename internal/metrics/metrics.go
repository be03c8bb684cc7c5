// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service records.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	SecurityActions      *prometheus.CounterVec
	EmailJobs            *prometheus.CounterVec
	EmailQueueDepth      prometheus.Gauge
	ExpiredActionsReaped prometheus.Counter
}

// New registers all collectors on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		SecurityActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "security_actions_total",
			Help:      "Security action lifecycle transitions by type and outcome.",
		}, []string{"type", "outcome"}),
		EmailJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "email_jobs_total",
			Help:      "Email jobs by outcome.",
		}, []string{"outcome"}),
		EmailQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Name:      "email_queue_depth",
			Help:      "Jobs waiting in the email queue.",
		}),
		ExpiredActionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "security_actions_reaped_total",
			Help:      "Pending security actions marked expired by the reaper.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.SecurityActions,
		m.EmailJobs,
		m.EmailQueueDepth,
		m.ExpiredActionsReaped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// SecurityAction counts one lifecycle outcome ("issued", "consumed", "rejected", "revoked").
func (m *Metrics) SecurityAction(actionType, outcome string) {
	if m == nil {
		return
	}
	m.SecurityActions.WithLabelValues(actionType, outcome).Inc()
}

// EmailJob counts one email job outcome ("sent", "retried", "failed", "dropped").
func (m *Metrics) EmailJob(outcome string) {
	if m == nil {
		return
	}
	m.EmailJobs.WithLabelValues(outcome).Inc()
}

// QueueDepth sets the current email queue depth.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.EmailQueueDepth.Set(float64(n))
}

// Reaped adds n expired actions.
func (m *Metrics) Reaped(n int64) {
	if m == nil {
		return
	}
	m.ExpiredActionsReaped.Add(float64(n))
}
