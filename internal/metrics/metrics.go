package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently open websocket sessions",
	}, []string{"kind"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Sessions accepted",
	}, []string{"kind"})

	SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_rejected_total",
		Help: "Connections refused at capacity",
	}, []string{"kind"})

	SessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_failed_total",
		Help: "Sessions terminated by an error rather than a disconnect",
	}, []string{"kind"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_chunks_received_total",
		Help: "Total audio chunks received",
	})

	ChunksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_chunks_skipped_total",
		Help: "Chunks dropped before transcription",
	}, []string{"reason"})

	SpeechChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_chunks_total",
		Help: "Chunks the speech gate passed to transcription",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_sent_total",
		Help: "Result messages written to clients",
	}, []string{"kind"})
)
