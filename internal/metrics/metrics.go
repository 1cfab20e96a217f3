package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. All methods are safe on a nil
// receiver so components can run without instrumentation in tests.
type Metrics struct {
	// Frame pipeline counters
	FramesCaptured atomic.Uint64
	FramesSent     atomic.Uint64
	CaptureErrors  atomic.Uint64

	// Detection channel counters
	ObservationsProcessed atomic.Uint64
	MalformedDropped      atomic.Uint64
	Reconnects            atomic.Uint64

	// Session counters
	EventsEmitted     atomic.Uint64
	SessionsCompleted atomic.Uint64

	// Gauges
	DetectorConnected atomic.Uint64 // 0 = disconnected, 1 = connected
	LiveClients       atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_frames_captured_total",
			Help: "Total frames captured from the camera",
		},
		func() float64 { return float64(m.FramesCaptured.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_frames_sent_total",
			Help: "Total frames sent to the detection service",
		},
		func() float64 { return float64(m.FramesSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_capture_errors_total",
			Help: "Total camera capture failures",
		},
		func() float64 { return float64(m.CaptureErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_observations_total",
			Help: "Total detection observations folded into a session",
		},
		func() float64 { return float64(m.ObservationsProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_malformed_dropped_total",
			Help: "Total malformed detector messages dropped",
		},
		func() float64 { return float64(m.MalformedDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_detector_reconnects_total",
			Help: "Total reconnect attempts to the detection service",
		},
		func() float64 { return float64(m.Reconnects.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_events_emitted_total",
			Help: "Total entry, exit and capacity events emitted",
		},
		func() float64 { return float64(m.EventsEmitted.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_sessions_completed_total",
			Help: "Total sessions finalized",
		},
		func() float64 { return float64(m.SessionsCompleted.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_detector_connected",
			Help: "Detector connection state (0=disconnected, 1=connected)",
		},
		func() float64 { return float64(m.DetectorConnected.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_live_clients",
			Help: "Number of connected live dashboard clients",
		},
		func() float64 { return float64(m.LiveClients.Load()) },
	))
}

// FrameCaptured records a successful camera capture
func (m *Metrics) FrameCaptured() {
	if m != nil {
		m.FramesCaptured.Add(1)
	}
}

// FrameSent records a frame handed to the detection channel
func (m *Metrics) FrameSent() {
	if m != nil {
		m.FramesSent.Add(1)
	}
}

// CaptureError records a camera capture failure
func (m *Metrics) CaptureError() {
	if m != nil {
		m.CaptureErrors.Add(1)
	}
}

// ObservationProcessed records an observation folded into session state
func (m *Metrics) ObservationProcessed() {
	if m != nil {
		m.ObservationsProcessed.Add(1)
	}
}

// MalformedMessage records a dropped detector message
func (m *Metrics) MalformedMessage() {
	if m != nil {
		m.MalformedDropped.Add(1)
	}
}

// Reconnect records a reconnect attempt to the detection service
func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Add(1)
	}
}

// EventEmitted records an emitted session event
func (m *Metrics) EventEmitted() {
	if m != nil {
		m.EventsEmitted.Add(1)
	}
}

// SessionCompleted records a finalized session
func (m *Metrics) SessionCompleted() {
	if m != nil {
		m.SessionsCompleted.Add(1)
	}
}

// SetConnected records the detection channel state
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.DetectorConnected.Store(1)
	} else {
		m.DetectorConnected.Store(0)
	}
}

// ClientConnected records a live dashboard client attach
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.LiveClients.Add(1)
	}
}

// ClientDisconnected records a live dashboard client detach
func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.LiveClients.Add(^uint64(0))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
