package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mhsFlairs/voicebridge/internal/config"
	"github.com/mhsFlairs/voicebridge/internal/metrics"
	"github.com/mhsFlairs/voicebridge/internal/rag"
	"github.com/mhsFlairs/voicebridge/internal/relay"
)

const (
	serviceName    = "voicebridge"
	serviceVersion = "1.0.0"
)

// HTTPServer hosts the call webhook, the transport websocket endpoints, and
// the monitoring API
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	supervisor *relay.Supervisor
	metrics    *metrics.Metrics
	ragClient  *rag.Client

	startTime time.Time
}

// New creates the HTTP server with all routes configured
func New(cfg *config.Config, logger *slog.Logger, supervisor *relay.Supervisor,
	m *metrics.Metrics, metricsHandler http.Handler) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		supervisor: supervisor,
		metrics:    m,
		startTime:  time.Now(),
	}

	h.ragClient = ragClientOrNil(h)

	mux := http.NewServeMux()
	h.setupRoutes(mux, metricsHandler)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
		// no read/write timeouts: websocket sessions live as long as the call
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, metricsHandler http.Handler) {
	// Call signaling and transports
	mux.HandleFunc("/incoming-call", h.withMetrics("/incoming-call", h.handleIncomingCall))
	mux.HandleFunc("/media-stream", h.handleMediaStream)
	mux.HandleFunc("/mic-stream", h.handleMicStream)

	// Monitoring and management
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", metricsHandler)

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleIncomingCall implements the Twilio voice webhook. The response greets
// the caller and connects the call media to /media-stream on this host.
func (h *HTTPServer) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	body, err := incomingCallTwiML(host)
	if err != nil {
		h.logger.Error("Failed to build TwiML", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Incoming call webhook served", slog.String("host", host))

	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status": "running",
				"active": h.supervisor.Count(),
				"limit":  h.config.Server.MaxConcurrentSessions,
			},
			"retrieval": map[string]interface{}{
				"enabled": h.ragClient != nil,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.supervisor.Snapshot()

	type streamEntry struct {
		ID uint64 `json:"id"`
		relay.SessionInfo
	}

	streams := make([]streamEntry, 0, len(snapshot))
	for id, info := range snapshot {
		streams = append(streams, streamEntry{ID: id, SessionInfo: info})
	}

	response := map[string]interface{}{
		"total_streams": len(streams),
		"timestamp":     time.Now().UTC(),
		"streams":       streams,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStreamDetail implements the /streams/{id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/streams/")
	if idStr == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	info, exists := h.supervisor.Get(id)
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleConfig implements the /config endpoint with secrets removed
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"port":                    h.config.Server.Port,
			"bind_address":            h.config.Server.BindAddress,
			"max_concurrent_sessions": h.config.Server.MaxConcurrentSessions,
		},
		"openai": map[string]interface{}{
			"realtime_url": h.config.OpenAI.RealtimeURL,
			"model":        h.config.OpenAI.Model,
			"temperature":  h.config.OpenAI.Temperature,
			"voice":        h.config.OpenAI.Voice,
			// Note: API key is intentionally omitted for security
		},
		"audio": map[string]interface{}{
			"mic_sample_rate": h.config.Audio.MicSampleRate,
			"mic_bit_depth":   h.config.Audio.MicBitDepth,
			"mic_bytes_per_ms": h.config.Audio.MicBytesPerMs(),
		},
		"vad": map[string]interface{}{
			"threshold":           h.config.VAD.Threshold,
			"prefix_padding_ms":   h.config.VAD.PrefixPaddingMs,
			"silence_duration_ms": h.config.VAD.SilenceDurationMs,
		},
		"rag": map[string]interface{}{
			"enabled":         h.config.RAG.Enabled,
			"collection":      h.config.RAG.Collection,
			"top_k":           h.config.RAG.TopK,
			"embedding_model": h.config.RAG.EmbeddingModel,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitized)
}

// handleStats implements the /stats endpoint with aggregate session counters
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.supervisor.Snapshot()

	byTransport := make(map[string]int)
	responding := 0
	for _, info := range snapshot {
		byTransport[info.Transport]++
		if info.Responding {
			responding++
		}
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(h.startTime).String(),
		"active_sessions": len(snapshot),
		"session_limit":   h.config.Server.MaxConcurrentSessions,
		"by_transport":    byTransport,
		"responding":      responding,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voicebridge Realtime Relay",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET|POST /incoming-call": "Twilio voice webhook (TwiML)",
			"WS /media-stream":        "Twilio Media Stream transport (audio/pcmu 8kHz)",
			"WS /mic-stream":          "Browser microphone transport (audio/pcm16 24kHz)",
			"GET /health":             "Service health check",
			"GET /streams":            "List active relay sessions",
			"GET /streams/{id}":       "Get detailed session information",
			"GET /config":             "Get service configuration",
			"GET /stats":              "Aggregate session statistics",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
