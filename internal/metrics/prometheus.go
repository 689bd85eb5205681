package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the room transcription service
type Metrics struct {
	// Audio ingest metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	Flushes        prometheus.Counter

	// Voice gate metrics
	GateAccepted prometheus.Counter
	GateRejected prometheus.Counter

	// Queue metrics
	QueueDepth     prometheus.Gauge
	QueueEvictions prometheus.Counter

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptsFiltered    prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Room and peer metrics
	ActivePeers          prometheus.Gauge
	ActiveRooms          prometheus.Gauge
	SessionsOpened       prometheus.Counter
	SessionsClosed       prometheus.Counter
	TranscriptsBroadcast prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio ingest metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_frames_received_total",
			Help: "Total number of PCM frames received from peers",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_frames_dropped_total",
			Help: "Total number of PCM frames dropped due to full peer queues",
		}),
		Flushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_buffer_flushes_total",
			Help: "Total number of peer buffer flushes",
		}),

		// Voice gate metrics
		GateAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_gate_accepted_total",
			Help: "Total number of segments accepted by the voice gate",
		}),
		GateRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_gate_rejected_total",
			Help: "Total number of segments rejected as silence",
		}),

		// Queue metrics
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rts_queue_depth",
			Help: "Current number of jobs in the transcription queue",
		}),
		QueueEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_queue_evictions_total",
			Help: "Total number of jobs evicted from a full queue",
		}),

		// Transcription metrics
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_transcription_successes_total",
			Help: "Total number of successful transcription calls",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_transcription_failures_total",
			Help: "Total number of failed transcription calls",
		}),
		TranscriptsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_transcripts_filtered_total",
			Help: "Total number of transcripts dropped as empty or hallucinated",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rts_transcription_duration_seconds",
			Help:    "Duration of transcription provider calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Room and peer metrics
		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rts_active_peers",
			Help: "Current number of connected peers",
		}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rts_active_rooms",
			Help: "Current number of rooms with at least one peer",
		}),
		SessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_sessions_opened_total",
			Help: "Total number of room transcript sessions opened",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_sessions_closed_total",
			Help: "Total number of room transcript sessions closed",
		}),
		TranscriptsBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rts_transcripts_broadcast_total",
			Help: "Total number of transcripts broadcast to rooms",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rts_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rts_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordFlush increments the buffer flush counter
func (m *Metrics) RecordFlush() {
	m.Flushes.Inc()
}

// RecordGateAccepted increments the gate accepted counter
func (m *Metrics) RecordGateAccepted() {
	m.GateAccepted.Inc()
}

// RecordGateRejected increments the gate rejected counter
func (m *Metrics) RecordGateRejected() {
	m.GateRejected.Inc()
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueEviction increments the queue eviction counter
func (m *Metrics) RecordQueueEviction() {
	m.QueueEvictions.Inc()
}

// RecordTranscriptionSuccess records a successful transcription call
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription call
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptFiltered increments the filtered transcripts counter
func (m *Metrics) RecordTranscriptFiltered() {
	m.TranscriptsFiltered.Inc()
}

// SetActivePeers sets the current number of connected peers
func (m *Metrics) SetActivePeers(count int) {
	m.ActivePeers.Set(float64(count))
}

// SetActiveRooms sets the current number of occupied rooms
func (m *Metrics) SetActiveRooms(count int) {
	m.ActiveRooms.Set(float64(count))
}

// RecordSessionOpened increments the sessions opened counter
func (m *Metrics) RecordSessionOpened() {
	m.SessionsOpened.Inc()
}

// RecordSessionClosed increments the sessions closed counter
func (m *Metrics) RecordSessionClosed() {
	m.SessionsClosed.Inc()
}

// RecordTranscriptBroadcast increments the broadcast counter
func (m *Metrics) RecordTranscriptBroadcast() {
	m.TranscriptsBroadcast.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
