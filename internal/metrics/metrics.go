// ABOUTME: Prometheus metrics for sessions, frames, model calls, tools and reply routing
// ABOUTME: Each Metrics owns a private registry; a nil *Metrics records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects relay metrics.
//
// Usage:
//
//	m := metrics.New()
//	m.ModelRequest("success", time.Since(start))
//	http.Handle("/metrics", m.Handler())
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions is the number of engines held by the session registry.
	ActiveSessions prometheus.Gauge

	// FramesSent counts frames delivered to transports.
	// Labels: kind (text|tool-call|tool-result)
	FramesSent *prometheus.CounterVec

	// FrameErrors counts frames whose delivery failed.
	FrameErrors prometheus.Counter

	// ModelRequests counts model invocations.
	// Labels: status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelDuration measures model invocation latency in seconds.
	ModelDuration prometheus.Histogram

	// ToolExecutions counts tool executions.
	// Labels: tool, outcome (completed|failed|deferred)
	ToolExecutions *prometheus.CounterVec

	// StaleContinuations counts deferred continuations discarded after a reset.
	StaleContinuations prometheus.Counter

	// RoutedReplies counts inbound replies by routing result.
	// Labels: status (routed|not_found|duplicate|invalid)
	RoutedReplies *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coven_relay_active_sessions",
			Help: "Number of sessions held in memory",
		}),

		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_relay_frames_sent_total",
				Help: "Total number of frames sent to transports by kind",
			},
			[]string{"kind"},
		),

		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "coven_relay_frame_errors_total",
			Help: "Total number of frames that failed to send",
		}),

		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_relay_model_requests_total",
				Help: "Total number of model requests by status",
			},
			[]string{"status"},
		),

		ModelDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coven_relay_model_request_duration_seconds",
			Help:    "Duration of model requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_relay_tool_executions_total",
				Help: "Total number of tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		StaleContinuations: factory.NewCounter(prometheus.CounterOpts{
			Name: "coven_relay_stale_continuations_total",
			Help: "Total number of deferred continuations discarded after a reset",
		}),

		RoutedReplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_relay_routed_replies_total",
				Help: "Total number of inbound replies by routing status",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionsClosed(n int) {
	if m != nil {
		m.ActiveSessions.Sub(float64(n))
	}
}

func (m *Metrics) FrameSent(kind string) {
	if m != nil {
		m.FramesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameFailed() {
	if m != nil {
		m.FrameErrors.Inc()
	}
}

// ModelRequest records one model invocation.
func (m *Metrics) ModelRequest(status string, d time.Duration) {
	if m != nil {
		m.ModelRequests.WithLabelValues(status).Inc()
		m.ModelDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ToolExecuted(tool, outcome string) {
	if m != nil {
		m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	}
}

func (m *Metrics) ContinuationStale() {
	if m != nil {
		m.StaleContinuations.Inc()
	}
}

func (m *Metrics) ReplyRouted(status string) {
	if m != nil {
		m.RoutedReplies.WithLabelValues(status).Inc()
	}
}
