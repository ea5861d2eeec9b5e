// Package metrics collects Prometheus metrics for the assistant.
//
// Metrics live on their own registry so tests and multiple servers in one
// process do not collide. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lucai"

// Metrics holds every collector the service records to.
type Metrics struct {
	Registry *prometheus.Registry

	// Exchanges counts finished agent exchanges.
	// Labels: outcome (done|error|tool_limit|timeout|cancelled)
	Exchanges *prometheus.CounterVec

	// ToolCalls counts tool invocations.
	// Labels: tool, status (ok|invalid|failed)
	ToolCalls *prometheus.CounterVec

	// ProviderDuration measures LLM call latency in seconds.
	// Labels: provider, mode (complete|stream), status (success|error)
	ProviderDuration *prometheus.HistogramVec

	// Deltas counts text deltas forwarded to clients.
	Deltas prometheus.Counter

	// HTTPRequests counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures HTTP request latency in seconds.
	// Labels: method, path
	HTTPDuration *prometheus.HistogramVec

	// Snapshots counts balance snapshots written by the scheduler.
	// Labels: status (success|error)
	Snapshots *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Agent exchanges by outcome",
		}, []string{"outcome"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and status",
		}, []string{"tool", "status"}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of LLM provider requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "mode", "status"}),
		Deltas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_deltas_total",
			Help:      "Text deltas forwarded to clients",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code",
		}, []string{"method", "path", "status_code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "path"}),
		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_snapshots_total",
			Help:      "Balance snapshots written by status",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Exchange records the outcome of one agent exchange.
func (m *Metrics) Exchange(outcome string) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(outcome).Inc()
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

// ProviderCall records one LLM call.
func (m *Metrics) ProviderCall(provider, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderDuration.WithLabelValues(provider, mode, status).Observe(d.Seconds())
}

// Delta counts one forwarded text delta.
func (m *Metrics) Delta() {
	if m == nil {
		return
	}
	m.Deltas.Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Snapshot records one balance snapshot attempt.
func (m *Metrics) Snapshot(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Snapshots.WithLabelValues(status).Inc()
}
