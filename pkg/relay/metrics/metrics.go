// Package metrics provides the relay's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxrelay"

// Metrics holds every Prometheus metric the relay records. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	FramesReceived     prometheus.Counter
	FramesDropped      prometheus.Counter
	AudioBytesReceived prometheus.Counter
	UtterancesTotal    *prometheus.CounterVec
	UtterancesDropped  *prometheus.CounterVec
	UtteranceDuration  prometheus.Histogram

	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec

	GenerationsTotal  *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	ResponseChunks    prometheus.Counter

	OutboundMessages *prometheus.CounterVec
	OutboundDropped  prometheus.Counter

	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates and registers all relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of websocket sessions opened",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session lifetime in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames fed to the segmenter",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped because a session could not keep up",
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes fed to the segmenter",
		}),
		UtterancesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total utterances emitted by the segmenter",
		}, []string{"close"}),
		UtterancesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total utterances discarded before transcription",
		}, []string{"reason"}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Audio length of emitted utterances in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total transcription attempts by outcome",
		}, []string{"provider", "outcome"}),
		TranscriptionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Transcription round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total generation streams by outcome",
		}, []string{"provider", "outcome"}),
		GenerationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Full generation stream duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		ResponseChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_chunks_total",
			Help:      "Total response chunks forwarded to clients",
		}),

		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Total outbound websocket messages by type",
		}, []string{"type"}),
		OutboundDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Total outbound messages dropped by backpressure",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka event publish attempts",
		}, []string{"topic"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total failed Kafka event publishes",
		}, []string{"topic"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordFrame(bytes int) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// RecordUtterance records an emitted utterance. close is "silence" or
// "forced".
func (m *Metrics) RecordUtterance(close string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesTotal.WithLabelValues(close).Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordUtteranceDropped(reason string) {
	if m == nil {
		return
	}
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordTranscription records one attempt. outcome is "ok",
// "no_speech", or "error".
func (m *Metrics) RecordTranscription(provider, outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(provider, outcome).Inc()
	m.TranscriptionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordGeneration records one stream. outcome is "complete" or
// "interrupted".
func (m *Metrics) RecordGeneration(provider, outcome string, durationSeconds float64, chunks int) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(provider, outcome).Inc()
	m.GenerationLatency.WithLabelValues(provider).Observe(durationSeconds)
	m.ResponseChunks.Add(float64(chunks))
}

func (m *Metrics) RecordOutbound(messageType string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordOutboundDropped() {
	if m == nil {
		return
	}
	m.OutboundDropped.Inc()
}

func (m *Metrics) RecordKafkaPublish(topic string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
