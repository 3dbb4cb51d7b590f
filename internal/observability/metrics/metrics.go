// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asr_call_monitor"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	AuthFailures    prometheus.Counter

	// Audio metrics
	AudioBytesSent  prometheus.Counter
	AudioFramesSent prometheus.Counter
	EndOfStreamSent prometheus.Counter

	// Recognition event metrics
	EventsReceived      *prometheus.CounterVec
	EventsMalformed     prometheus.Counter
	UtterancesForwarded prometheus.Counter

	// Extraction metrics
	ExtractionsTotal  *prometheus.CounterVec
	ExtractionLatency *prometheus.HistogramVec
	HistoryLength     prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCallsTotal    *prometheus.CounterVec
	GRPCStreamsActive prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recognizer sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open recognizer sessions",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of ended sessions by completion reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognizer sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected recognizer handshakes",
		}),

		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the recognizer",
		}),
		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent to the recognizer",
		}),
		EndOfStreamSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "end_of_stream_sent_total",
			Help:      "Total number of end-of-stream control frames sent",
		}),

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total recognition events received by slice type",
		}, []string{"slice"}),
		EventsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_malformed_total",
			Help:      "Total inbound messages that could not be parsed",
		}),
		UtterancesForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_forwarded_total",
			Help:      "Total completed utterances handed to the monitor",
		}),

		ExtractionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total extraction calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		ExtractionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Extraction call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60},
		}, []string{"provider"}),
		HistoryLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_history_utterances",
			Help:      "Number of utterances in the current conversation history",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCStreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of open gRPC health watch streams",
		}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending with the given completion reason.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordAuthFailure records a rejected handshake.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordAudioSent records one audio frame sent.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioFramesSent.Inc()
}

// RecordEndOfStream records the end-of-stream control frame.
func (m *Metrics) RecordEndOfStream() {
	m.EndOfStreamSent.Inc()
}

// RecordEvent records a parsed recognition event.
func (m *Metrics) RecordEvent(slice string) {
	m.EventsReceived.WithLabelValues(slice).Inc()
}

// RecordMalformed records an unparsable inbound message.
func (m *Metrics) RecordMalformed() {
	m.EventsMalformed.Inc()
}

// RecordUtterance records an utterance forwarded to the monitor.
func (m *Metrics) RecordUtterance() {
	m.UtterancesForwarded.Inc()
}

// RecordExtraction records one extraction call.
func (m *Metrics) RecordExtraction(provider string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ExtractionsTotal.WithLabelValues(provider, outcome).Inc()
	m.ExtractionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// SetHistoryLength records the current conversation length.
func (m *Metrics) SetHistoryLength(n int) {
	m.HistoryLength.Set(float64(n))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a completed unary call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCallsTotal.WithLabelValues(method, code).Inc()
}

// RecordStreamStart records a gRPC stream opening.
func (m *Metrics) RecordStreamStart() {
	m.GRPCStreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream closing.
func (m *Metrics) RecordStreamEnd(method, code string) {
	m.GRPCStreamsActive.Dec()
	m.GRPCCallsTotal.WithLabelValues(method, code).Inc()
}
