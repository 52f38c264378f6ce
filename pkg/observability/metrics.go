package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes.
const (
	OutcomeCompleted        = "completed"
	OutcomeConnectionFailed = "connection_failed"
	OutcomeFailed           = "failed"
)

// CaptureMetrics holds all Prometheus metrics for the capture worker.
type CaptureMetrics struct {
	ClaimsTotal     *prometheus.CounterVec
	SessionsTotal   *prometheus.CounterVec
	SessionSeconds  *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	ChunkUploads    *prometheus.CounterVec
	ChunkBytes      prometheus.Counter
	TransitionTotal *prometheus.CounterVec
}

// NewCaptureMetrics registers the capture metrics with reg.
func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	factory := promauto.With(reg)

	return &CaptureMetrics{
		ClaimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetcap_claims_total",
				Help: "Claim attempts by result",
			},
			[]string{"result"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetcap_sessions_total",
				Help: "Capture sessions by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		SessionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetcap_session_seconds",
				Help:    "Capture session duration",
				Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"platform"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetcap_active_sessions",
				Help: "Capture sessions currently running",
			},
		),
		ChunkUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetcap_chunk_uploads_total",
				Help: "Audio chunk uploads by status",
			},
			[]string{"status"},
		),
		ChunkBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meetcap_chunk_bytes_total",
				Help: "Bytes of audio uploaded",
			},
		),
		TransitionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetcap_transitions_total",
				Help: "Lifecycle transitions by event and result",
			},
			[]string{"event", "result"},
		),
	}
}

// RecordClaim counts a claim attempt.
func (m *CaptureMetrics) RecordClaim(result string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(result).Inc()
}

// RecordSession counts a finished session and observes its duration.
func (m *CaptureMetrics) RecordSession(platform, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(platform, outcome).Inc()
	m.SessionSeconds.WithLabelValues(platform).Observe(seconds)
}

// RecordChunk counts an audio chunk upload.
func (m *CaptureMetrics) RecordChunk(status string, bytes int) {
	if m == nil {
		return
	}
	m.ChunkUploads.WithLabelValues(status).Inc()
	if status == "ok" {
		m.ChunkBytes.Add(float64(bytes))
	}
}

// RecordTransition counts a lifecycle transition.
func (m *CaptureMetrics) RecordTransition(event, result string) {
	if m == nil {
		return
	}
	m.TransitionTotal.WithLabelValues(event, result).Inc()
}

// SessionStarted increments the active gauge.
func (m *CaptureMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active gauge.
func (m *CaptureMetrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
