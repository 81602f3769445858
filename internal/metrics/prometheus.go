package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription bot service
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreated prometheus.Counter
	SessionsFailed  prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Recognition stream metrics
	StreamsOpened      prometheus.Counter
	StreamsEvicted     prometheus.Counter
	ActiveStreams      prometheus.Gauge
	AudioBytesReceived prometheus.Counter
	AudioChunksDropped prometheus.Counter

	// Transcript metrics
	TranscriptsFinal   prometheus.Counter
	TranscriptsInterim prometheus.Counter

	// Webhook delivery metrics
	WebhookDeliveries   prometheus.Counter
	WebhookFailures     prometheus.Counter
	WebhookAttempts     prometheus.Counter
	WebhookRejectedURLs prometheus.Counter
	WebhookDuration     prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_sessions_created_total",
			Help: "Total number of bot sessions created",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_sessions_failed_total",
			Help: "Total number of bot sessions that ended in the failed state",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attendee_active_sessions",
			Help: "Current number of bot sessions in a meeting",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendee_session_duration_seconds",
			Help:    "Duration of bot sessions from creation to end",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~3 hours
		}),

		// Recognition stream metrics
		StreamsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_recognition_streams_opened_total",
			Help: "Total number of per-speaker recognition streams opened",
		}),
		StreamsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_recognition_streams_evicted_total",
			Help: "Total number of recognition streams closed by idle eviction",
		}),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attendee_active_recognition_streams",
			Help: "Current number of open per-speaker recognition streams",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_audio_bytes_received_total",
			Help: "Total bytes of speaker audio forwarded to recognition streams",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_audio_chunks_dropped_total",
			Help: "Total audio chunks dropped because a stream was disconnected",
		}),

		// Transcript metrics
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_transcripts_final_total",
			Help: "Total number of final transcript events emitted",
		}),
		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_transcripts_interim_total",
			Help: "Total number of interim transcript events emitted",
		}),

		// Webhook delivery metrics
		WebhookDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_webhook_deliveries_total",
			Help: "Total number of webhook payloads delivered successfully",
		}),
		WebhookFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_webhook_failures_total",
			Help: "Total number of webhook payloads abandoned after all attempts",
		}),
		WebhookAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_webhook_attempts_total",
			Help: "Total number of webhook delivery attempts including retries",
		}),
		WebhookRejectedURLs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attendee_webhook_rejected_urls_total",
			Help: "Total number of webhook deliveries rejected by URL validation",
		}),
		WebhookDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendee_webhook_duration_seconds",
			Help:    "Duration of webhook deliveries including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attendee_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendee_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attendee_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionFailed increments the failed sessions counter
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordSessionEnded records a finished session and its duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of in-meeting sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// SetActiveStreams sets the current number of open recognition streams
func (m *Metrics) SetActiveStreams(count int) {
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamOpened increments the streams opened counter
func (m *Metrics) RecordStreamOpened() {
	m.StreamsOpened.Inc()
}

// RecordStreamEvicted increments the idle eviction counter
func (m *Metrics) RecordStreamEvicted() {
	m.StreamsEvicted.Inc()
}

// RecordAudioReceived records bytes of forwarded speaker audio
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordAudioChunkDropped increments the dropped chunk counter
func (m *Metrics) RecordAudioChunkDropped() {
	m.AudioChunksDropped.Inc()
}

// RecordTranscript records an emitted transcript event
func (m *Metrics) RecordTranscript(isFinal bool) {
	if isFinal {
		m.TranscriptsFinal.Inc()
	} else {
		m.TranscriptsInterim.Inc()
	}
}

// RecordWebhookDelivery records a finished delivery and its outcome
func (m *Metrics) RecordWebhookDelivery(success bool, attempts int, durationSeconds float64) {
	if success {
		m.WebhookDeliveries.Inc()
	} else {
		m.WebhookFailures.Inc()
	}
	m.WebhookAttempts.Add(float64(attempts))
	m.WebhookDuration.Observe(durationSeconds)
}

// RecordWebhookRejected increments the rejected URL counter
func (m *Metrics) RecordWebhookRejected() {
	m.WebhookRejectedURLs.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
