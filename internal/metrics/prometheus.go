package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voicebridge service
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Relay frame metrics
	FramesInbound  *prometheus.CounterVec
	FramesOutbound *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	AudioBytesOut  prometheus.Counter

	// Interruption metrics
	Truncations prometheus.Counter
	TruncatedMs prometheus.Histogram

	// Upstream session metrics
	UpstreamEvents    *prometheus.CounterVec
	UpstreamSendSkips prometheus.Counter

	// RAG metrics
	ContextLookups  prometheus.Counter
	ContextFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics against the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_sessions",
			Help: "Current number of active relay sessions",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sessions_created_total",
			Help: "Total number of relay sessions created",
		}, []string{"transport"}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sessions_closed_total",
			Help: "Total number of relay sessions closed",
		}, []string{"transport"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_session_duration_seconds",
			Help:    "Duration of relay sessions in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		// Relay frame metrics
		FramesInbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_frames_inbound_total",
			Help: "Total number of transport frames received, by kind",
		}, []string{"transport", "kind"}),
		FramesOutbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_frames_outbound_total",
			Help: "Total number of transport frames written, by kind",
		}, []string{"transport", "kind"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_decode_errors_total",
			Help: "Total number of transport frame decode errors",
		}, []string{"transport"}),
		AudioBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_audio_bytes_out_total",
			Help: "Total decoded bytes of assistant audio forwarded to transports",
		}),

		// Interruption metrics
		Truncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_truncations_total",
			Help: "Total number of assistant turns truncated by caller speech",
		}),
		TruncatedMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_truncated_playback_ms",
			Help:    "Elapsed playback milliseconds reported in truncation decisions",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),

		// Upstream session metrics
		UpstreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_upstream_events_total",
			Help: "Total number of upstream session events received, by type",
		}, []string{"type"}),
		UpstreamSendSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_upstream_send_skips_total",
			Help: "Total number of sends skipped because the upstream session was not live",
		}),

		// RAG metrics
		ContextLookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_context_lookups_total",
			Help: "Total number of RAG context lookups attempted",
		}),
		ContextFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_context_failures_total",
			Help: "Total number of RAG context lookups that failed or returned nothing",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordHTTPError records an HTTP error by type
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// RecordTruncation records a truncation decision applied to an in-flight turn
func (m *Metrics) RecordTruncation(elapsedMs int64) {
	m.Truncations.Inc()
	m.TruncatedMs.Observe(float64(elapsedMs))
}
