// Package metrics exposes Prometheus collectors for tool invocations, model round
// trips and sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry so tests and embedded uses don't collide on the
// global one. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	modelRequests   *prometheus.CounterVec
	modelDuration   prometheus.Histogram
	activeSessions  prometheus.Gauge
	backgroundTasks *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpreview_tool_invocations_total",
			Help: "Tool invocations by tool and outcome (success or failure kind)",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpreview_tool_duration_seconds",
			Help:    "Tool execution latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"tool"}),
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpreview_model_requests_total",
			Help: "Model endpoint round trips by mode and outcome",
		}, []string{"mode", "outcome"}),
		modelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcpreview_model_request_duration_seconds",
			Help:    "Model endpoint round-trip latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpreview_active_sessions",
			Help: "Sessions currently open",
		}),
		backgroundTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpreview_background_tasks_total",
			Help: "Fire-and-forget tasks by name and outcome",
		}, []string{"name", "outcome"}),
	}
	m.registry.MustRegister(
		m.toolInvocations, m.toolDuration,
		m.modelRequests, m.modelDuration,
		m.activeSessions, m.backgroundTasks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTool records one tool invocation. outcome is "success" or a failure kind.
func (m *Metrics) ObserveTool(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveModel(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(mode, outcome).Inc()
	m.modelDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) ObserveBackground(name, outcome string) {
	if m != nil {
		m.backgroundTasks.WithLabelValues(name, outcome).Inc()
	}
}

// Registry exposes the underlying registry, mostly for tests.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
