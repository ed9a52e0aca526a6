package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the bridge. A nil *Metrics is valid
// and records nothing, so components can run without a registry in tests.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	cyclesTotal   prometheus.Counter
	cycleDuration prometheus.Histogram
	publicRooms   prometheus.Gauge
	aliases       prometheus.Gauge
	relayCalls    *prometheus.CounterVec
	pollFailures  *prometheus.CounterVec
	cameras       prometheus.Gauge
	recordings    prometheus.Gauge
}

// New creates and registers the bridge's Prometheus collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cb_http_requests_total",
			Help: "Total number of HTTP requests received by the status API",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cb_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cb_discovery_cycles_total",
			Help: "Total number of completed discovery cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cb_discovery_cycle_duration_seconds",
			Help:    "Wall time of one discovery cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		publicRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cb_public_rooms",
			Help: "Rooms that were public in the last published snapshot",
		}),
		aliases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cb_relay_aliases",
			Help: "Alias names currently recorded as registered at the relay",
		}),
		relayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cb_relay_calls_total",
			Help: "Relay control calls by operation and outcome",
		}, []string{"op", "outcome"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cb_poll_failures_total",
			Help: "Upstream fetch failures by kind (transport, status, decode, manifest, panic)",
		}, []string{"kind"}),
		cameras: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cb_cameras",
			Help: "Camera entities currently materialized",
		}),
		recordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cb_active_recordings",
			Help: "Recorder processes currently running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.cyclesTotal,
		m.cycleDuration,
		m.publicRooms,
		m.aliases,
		m.relayCalls,
		m.pollFailures,
		m.cameras,
		m.recordings,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveCycle records one completed discovery cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// SetPublicRooms sets the public rooms gauge.
func (m *Metrics) SetPublicRooms(n int) {
	if m == nil {
		return
	}
	m.publicRooms.Set(float64(n))
}

// SetAliases sets the registered aliases gauge.
func (m *Metrics) SetAliases(n int) {
	if m == nil {
		return
	}
	m.aliases.Set(float64(n))
}

// IncRelayCall counts a relay call; op is "upsert" or "remove", outcome "ok" or "error".
func (m *Metrics) IncRelayCall(op, outcome string) {
	if m == nil {
		return
	}
	m.relayCalls.WithLabelValues(op, outcome).Inc()
}

// IncPollFailure counts an upstream failure of the given kind.
func (m *Metrics) IncPollFailure(kind string) {
	if m == nil {
		return
	}
	m.pollFailures.WithLabelValues(kind).Inc()
}

// SetCameras sets the camera gauge.
func (m *Metrics) SetCameras(n int) {
	if m == nil {
		return
	}
	m.cameras.Set(float64(n))
}

// SetRecordings sets the active recordings gauge.
func (m *Metrics) SetRecordings(n int) {
	if m == nil {
		return
	}
	m.recordings.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
