package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the visual rig hub.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	commandsBroadcastTotal  prometheus.Counter
	sensorPacketsTotal      prometheus.Counter
	chapterTransitionsTotal prometheus.Counter
	sessionsDroppedTotal    prometheus.Counter
	connectedRenderers      prometheus.Gauge
	errorsTotal             prometheus.Counter
	requestDuration         prometheus.Histogram
}

// New creates and registers Prometheus metrics for the hub.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_requests_total",
		Help: "Total number of HTTP requests received",
	})
	commandsBroadcastTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_commands_broadcast_total",
		Help: "Total number of commands fanned out to renderer sessions",
	})
	sensorPacketsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_sensor_packets_total",
		Help: "Total number of OSC sensor messages decoded",
	})
	chapterTransitionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_chapter_transitions_total",
		Help: "Total number of timeline chapter transitions emitted",
	})
	sessionsDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_sessions_dropped_total",
		Help: "Total number of renderer sessions dropped on write failure",
	})
	connectedRenderers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rig_connected_renderers",
		Help: "Number of currently connected renderer sessions",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rig_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "rig_request_duration_seconds",
		Help: "Control request latency. The upper buckets exist for shader validation, which blocks on a renderer round trip.",
		// Most control requests are in-memory writes; validation can take
		// up to the configured timeout.
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 3, 5},
	})

	registry.MustRegister(
		requestsTotal,
		commandsBroadcastTotal,
		sensorPacketsTotal,
		chapterTransitionsTotal,
		sessionsDroppedTotal,
		connectedRenderers,
		errorsTotal,
		requestDuration,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		commandsBroadcastTotal:  commandsBroadcastTotal,
		sensorPacketsTotal:      sensorPacketsTotal,
		chapterTransitionsTotal: chapterTransitionsTotal,
		sessionsDroppedTotal:    sessionsDroppedTotal,
		connectedRenderers:      connectedRenderers,
		errorsTotal:             errorsTotal,
		requestDuration:         requestDuration,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncCommandsBroadcast increments the broadcast command counter.
func (m *Metrics) IncCommandsBroadcast() {
	m.commandsBroadcastTotal.Inc()
}

// IncSensorPackets increments the decoded sensor message counter.
func (m *Metrics) IncSensorPackets() {
	m.sensorPacketsTotal.Inc()
}

// IncChapterTransitions increments the chapter transition counter.
func (m *Metrics) IncChapterTransitions() {
	m.chapterTransitionsTotal.Inc()
}

// IncSessionsDropped increments the dropped session counter.
func (m *Metrics) IncSessionsDropped() {
	m.sessionsDroppedTotal.Inc()
}

// SetConnectedRenderers sets the connected renderer gauge.
func (m *Metrics) SetConnectedRenderers(n int) {
	m.connectedRenderers.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRequestDuration records one control request's latency in seconds.
func (m *Metrics) ObserveRequestDuration(seconds float64) {
	m.requestDuration.Observe(seconds)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. connected renderers).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
