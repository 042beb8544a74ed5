// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lifeops_voice"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsRejected *prometheus.CounterVec
	CaptureDuration  prometheus.Histogram

	// Audio metrics
	AudioBytesCaptured  prometheus.Counter
	AudioChunksCaptured prometheus.Counter
	AudioChunksDropped  prometheus.Counter

	// Captioner metrics
	CaptionEvents *prometheus.CounterVec
	CaptionErrors *prometheus.CounterVec

	// Pipeline metrics
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	StageFallbacks   *prometheus.CounterVec

	// Remote backend metrics
	RemoteCalls   *prometheus.CounterVec
	RemoteLatency *prometheus.HistogramVec

	// Task metrics
	TaskSubmissions *prometheus.CounterVec

	// Activity log metrics
	LogEntries *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Presentation metrics
	HTTPRequests   *prometheus.CounterVec
	GRPCCalls      *prometheus.CounterVec
	WSClientsGauge prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of capture sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_listening",
			Help:      "Number of sessions currently capturing audio",
		}),
		SessionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Total number of capture attempts that failed during setup",
		}, []string{"reason"}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of audio capture in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes buffered by the capture manager",
		}),
		AudioChunksCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_captured_total",
			Help:      "Total audio chunks buffered by the capture manager",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Total audio chunks discarded because a capture limit was exceeded",
		}),

		CaptionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caption_events_total",
			Help:      "Total live caption events applied to the transcript",
		}, []string{"kind"}),
		CaptionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caption_errors_total",
			Help:      "Total swallowed live captioner errors",
		}, []string{"provider", "phase"}),

		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total pipeline runs by outcome",
		}, []string{"outcome"}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of the transcribe-then-reason pipeline",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		StageFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_fallbacks_total",
			Help:      "Total number of times a stage substituted canned demo data",
		}, []string{"stage"}),

		RemoteCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Total remote backend calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		RemoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_latency_seconds",
			Help:      "Remote backend call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),

		TaskSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submissions_total",
			Help:      "Total task form submissions by outcome",
		}, []string{"outcome"}),

		LogEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_log_entries_total",
			Help:      "Total activity log entries by type",
		}, []string{"type"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total presentation API requests",
		}, []string{"method", "route", "code"}),
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total gRPC unary calls",
		}, []string{"method", "code"}),
		WSClientsGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Number of connected WebSocket clients",
		}),
	}
}

// RecordSessionStart records a capture session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStop records a capture session ending.
func (m *Metrics) RecordSessionStop(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordSessionRejected records a capture attempt that failed during setup.
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordAudioChunk records a buffered audio chunk.
func (m *Metrics) RecordAudioChunk(bytes int) {
	m.AudioBytesCaptured.Add(float64(bytes))
	m.AudioChunksCaptured.Inc()
}

// RecordAudioChunkDropped records a chunk discarded by a capture limit.
func (m *Metrics) RecordAudioChunkDropped() {
	m.AudioChunksDropped.Inc()
}

// RecordCaptionEvent records a caption event ("final" or "interim").
func (m *Metrics) RecordCaptionEvent(kind string) {
	m.CaptionEvents.WithLabelValues(kind).Inc()
}

// RecordCaptionError records a swallowed captioner error.
func (m *Metrics) RecordCaptionError(provider, phase string) {
	m.CaptionErrors.WithLabelValues(provider, phase).Inc()
}

// RecordPipelineRun records a finished pipeline run.
func (m *Metrics) RecordPipelineRun(outcome string, durationSeconds float64) {
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordFallback records a stage falling back to canned data.
func (m *Metrics) RecordFallback(stage string) {
	m.StageFallbacks.WithLabelValues(stage).Inc()
}

// RecordRemoteCall records a backend call.
func (m *Metrics) RecordRemoteCall(endpoint string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RemoteCalls.WithLabelValues(endpoint, outcome).Inc()
	m.RemoteLatency.WithLabelValues(endpoint).Observe(latencySeconds)
}

// RecordTaskSubmission records a task form submission outcome.
func (m *Metrics) RecordTaskSubmission(outcome string) {
	m.TaskSubmissions.WithLabelValues(outcome).Inc()
}

// RecordLogEntry records an activity log entry.
func (m *Metrics) RecordLogEntry(logType string) {
	m.LogEntries.WithLabelValues(logType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records a presentation API request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	m.HTTPRequests.WithLabelValues(method, route, httpCode(code)).Inc()
}

// RecordGRPCCall records a gRPC unary call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
