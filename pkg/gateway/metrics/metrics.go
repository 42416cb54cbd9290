// Package metrics exposes Prometheus instrumentation for the avatar gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the avatar gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter

	// Turn metrics
	TurnsStarted      prometheus.Counter
	TurnsCompleted    prometheus.Counter
	TurnsFailed       *prometheus.CounterVec
	TurnsRejectedBusy prometheus.Counter
	TurnDuration      prometheus.Histogram
	StageDuration     *prometheus.HistogramVec

	// Audio metrics
	AudioBytesIn  prometheus.Counter
	AudioBytesOut prometheus.Counter
}

// New creates all gateway metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "avatar_active_sessions",
			Help: "Current number of connected chat sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_sessions_started_total",
			Help: "Total number of chat sessions accepted",
		}),
		TurnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_turns_started_total",
			Help: "Total number of turns accepted for processing",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_turns_completed_total",
			Help: "Total number of turns that reached the complete status",
		}),
		TurnsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avatar_turns_failed_total",
			Help: "Total number of failed turns",
		}, []string{"error_type"}),
		TurnsRejectedBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_turns_rejected_busy_total",
			Help: "Total number of submissions rejected while a turn was in flight",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "avatar_turn_duration_seconds",
			Help:    "End-to-end duration of completed turns",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "avatar_turn_stage_duration_seconds",
			Help:    "Duration of individual turn stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~1 minute
		}, []string{"stage"}),
		AudioBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_audio_bytes_in_total",
			Help: "Total decoded bytes of client audio received",
		}),
		AudioBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "avatar_audio_bytes_out_total",
			Help: "Total synthesized audio bytes sent to clients",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStarted marks a new session as connected.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded marks a session as disconnected.
func (m *Metrics) RecordSessionEnded() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) RecordTurnStarted() {
	m.TurnsStarted.Inc()
}

func (m *Metrics) RecordTurnCompleted(durationSeconds float64) {
	m.TurnsCompleted.Inc()
	m.TurnDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordTurnFailed(errorType string) {
	m.TurnsFailed.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordBusyRejection() {
	m.TurnsRejectedBusy.Inc()
}

func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

func (m *Metrics) RecordAudioIn(bytes int) {
	m.AudioBytesIn.Add(float64(bytes))
}

func (m *Metrics) RecordAudioOut(bytes int) {
	m.AudioBytesOut.Add(float64(bytes))
}
