// Package metrics bundles the Prometheus collectors for the pipeline and the
// overlay server. Every method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeAdmitted labels notifications that reached the display queue.
const OutcomeAdmitted = "admitted"

type Metrics struct {
	registry *prometheus.Registry

	notifications   *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	normaliseErrors *prometheus.CounterVec
	artifacts       *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	shown           *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.Gauge
	sseClients      prometheus.Gauge
	broadcastDrops  *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "notifications_total",
			Help:      "Notifications handled by the pipeline, by outcome",
		}, []string{"platform", "type", "outcome"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "sink_failures_total",
			Help:      "Failed sink submissions",
		}, []string{"sink"}),
		normaliseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "normalise_errors_total",
			Help:      "Raw events that could not be normalised",
		}, []string{"platform"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "artifacts_total",
			Help:      "Shaped strings rejected by the artifact scrubber",
		}, []string{"rule"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "display_queue_depth",
			Help:      "Items waiting on the display queue",
		}),
		shown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "notifications_shown_total",
			Help:      "Notifications delivered to overlay clients",
		}, []string{"transport"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gnasty",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "ws_clients",
			Help:      "Current connected WebSocket clients",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "broadcast_drops_total",
			Help:      "Number of events dropped due to slow clients",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
	}

	registry.MustRegister(
		m.notifications,
		m.sinkFailures,
		m.normaliseErrors,
		m.artifacts,
		m.queueDepth,
		m.shown,
		m.requestsTotal,
		m.requestDuration,
		m.wsClients,
		m.sseClients,
		m.broadcastDrops,
		m.rateLimited,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Notification counts one pipeline outcome: OutcomeAdmitted or a reason.
func (m *Metrics) Notification(platform, typ, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(platform, typ, outcome).Inc()
}

func (m *Metrics) SinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) NormaliseError(platform string) {
	if m == nil {
		return
	}
	m.normaliseErrors.WithLabelValues(platform).Inc()
}

func (m *Metrics) Artifact(rule string) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues(rule).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Shown(transport string) {
	if m == nil {
		return
	}
	m.shown.WithLabelValues(transport).Inc()
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncWSClients adjusts the WebSocket client gauge by delta.
func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
