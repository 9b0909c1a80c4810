// Package observability exposes the Prometheus metrics of the gateway and
// the chat backend.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "troubleshoot"

// Metrics holds every collector, registered on a private registry so that
// tests and multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	// streamsTotal counts finished chat streams.
	// Labels: mode, outcome (success, error, canceled)
	streamsTotal *prometheus.CounterVec

	// streamErrors counts failed streams by classified error kind.
	// Labels: mode, kind
	streamErrors *prometheus.CounterVec

	// framesTotal counts emitted stream frames.
	// Labels: mode
	framesTotal *prometheus.CounterVec

	// firstToken measures time from request to first content frame.
	// Labels: mode
	firstToken *prometheus.HistogramVec

	// streamDuration measures full stream duration.
	// Labels: mode, outcome
	streamDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	activeStreams  prometheus.Gauge

	// proxyRequests counts gateway requests by route class and status code.
	// Labels: route, code
	proxyRequests *prometheus.CounterVec

	wsConnections prometheus.Gauge

	// wsCloses counts relay closes by close code sent to the client.
	// Labels: code
	wsCloses *prometheus.CounterVec

	uiState *prometheus.GaugeVec
}

// New creates a Metrics instance with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		streamsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "requests_total",
			Help:      "Finished chat streams by mode and outcome",
		}, []string{"mode", "outcome"}),
		streamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Failed chat streams by classified error kind",
		}, []string{"mode", "kind"}),
		framesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Stream frames written to clients",
		}, []string{"mode"}),
		firstToken: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "first_token_seconds",
			Help:      "Time from request to first content frame",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30},
		}, []string{"mode"}),
		streamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Total chat stream duration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode", "outcome"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently held in memory",
		}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "in_flight",
			Help:      "Chat streams currently being generated",
		}),
		proxyRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway requests by route class and status code",
		}, []string{"route", "code"}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "websocket_connections",
			Help:      "Open relayed WebSocket connections",
		}),
		wsCloses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "websocket_closes_total",
			Help:      "Relayed WebSocket closes by close code sent to the client",
		}, []string{"code"}),
		uiState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ui",
			Name:      "state",
			Help:      "1 for the current UI process state, 0 otherwise",
		}, []string{"state"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StreamStarted marks a stream in flight and returns a function that records
// its outcome when it ends.
func (m *Metrics) StreamStarted(mode string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeStreams.Inc()
	return func(outcome string) {
		m.activeStreams.Dec()
		m.streamsTotal.WithLabelValues(mode, outcome).Inc()
		m.streamDuration.WithLabelValues(mode, outcome).Observe(time.Since(start).Seconds())
	}
}

// StreamError records a classified stream failure.
func (m *Metrics) StreamError(mode, kind string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(mode, kind).Inc()
}

// Frame records one written frame.
func (m *Metrics) Frame(mode string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(mode).Inc()
}

// FirstToken records the latency of the first content frame.
func (m *Metrics) FirstToken(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.firstToken.WithLabelValues(mode).Observe(d.Seconds())
}

// SetSessions updates the in-memory session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ProxyRequest records one gateway request.
func (m *Metrics) ProxyRequest(route string, code int) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(route, codeLabel(code)).Inc()
}

// WebSocketOpened increments the open relay gauge and returns the matching
// close recorder.
func (m *Metrics) WebSocketOpened() func(code int) {
	if m == nil {
		return func(int) {}
	}
	m.wsConnections.Inc()
	return func(code int) {
		m.wsConnections.Dec()
		m.wsCloses.WithLabelValues(codeLabel(code)).Inc()
	}
}

// SetUIState flags the current UI process state.
func (m *Metrics) SetUIState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.uiState.WithLabelValues(s).Set(v)
	}
}

func codeLabel(code int) string {
	if code <= 0 {
		return "none"
	}
	return strconv.Itoa(code)
}
