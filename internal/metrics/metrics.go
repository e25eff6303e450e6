// Package metrics exposes Prometheus collectors for the sync client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeStale    = "stale"
	OutcomeOffline  = "offline"
	OutcomeThrottle = "throttled"
	OutcomeSettled  = "settled"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	deliveryAttempts *prometheus.CounterVec
	flushRuns        prometheus.Counter
	pending          *prometheus.GaugeVec
	persistFailures  prometheus.Counter
	uploadFailures   prometheus.Counter
	sessionState     prometheus.Gauge
	reconnects       prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zchat_delivery_attempts_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}),
		flushRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zchat_flush_runs_total",
			Help: "Queue flush scans started",
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zchat_pending_messages",
			Help: "Messages awaiting delivery per room",
		}, []string{"room"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zchat_persist_failures_total",
			Help: "Failed writes to the durable log",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zchat_upload_failures_total",
			Help: "Attachment uploads that failed",
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zchat_session_state",
			Help: "Transport session state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zchat_session_reconnects_total",
			Help: "Reconnect attempts scheduled after a dropped connection",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zchat_api_requests_total",
			Help: "Local API requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zchat_api_request_duration_seconds",
			Help:    "Local API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.deliveryAttempts, m.flushRuns, m.pending, m.persistFailures,
		m.uploadFailures, m.sessionState, m.reconnects, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FlushRun() {
	if m == nil {
		return
	}
	m.flushRuns.Inc()
}

func (m *Metrics) Pending(room string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(room).Set(float64(n))
}

// ForgetRoom drops the pending gauge of a closed room.
func (m *Metrics) ForgetRoom(room string) {
	if m == nil {
		return
	}
	m.pending.DeleteLabelValues(room)
}

func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) UploadFailure() {
	if m == nil {
		return
	}
	m.uploadFailures.Inc()
}

func (m *Metrics) SessionState(code int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(code))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Request(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
