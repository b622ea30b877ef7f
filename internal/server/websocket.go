package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mhsFlairs/voicebridge/internal/rag"
	"github.com/mhsFlairs/voicebridge/internal/realtime"
	"github.com/mhsFlairs/voicebridge/internal/relay"
	"github.com/mhsFlairs/voicebridge/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// transports dial from Twilio's cloud or arbitrary browser origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket connection to the relay's Conn interface.
// The write mutex covers the relay's outbound pump racing the close frame.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// ReadFrame implements relay.Conn
func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived) {
			return nil, relay.NormalClose(err)
		}
		return nil, err
	}
	return data, nil
}

// WriteFrame implements relay.Conn
func (w *wsConn) WriteFrame(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements relay.Conn
func (w *wsConn) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// handleMediaStream accepts one Twilio Media Stream connection
func (h *HTTPServer) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	h.handleTransport(w, r, transport.NewTwilioCodec(), true)
}

// handleMicStream accepts one browser microphone connection
func (h *HTTPServer) handleMicStream(w http.ResponseWriter, r *http.Request) {
	h.handleTransport(w, r, transport.NewMicCodec(h.config.Audio.MicBytesPerMs()), false)
}

// handleTransport upgrades the connection, establishes the upstream session,
// and runs the relay to completion. greet makes the assistant speak first
// (telephony only; browser clients start the conversation themselves).
func (h *HTTPServer) handleTransport(w http.ResponseWriter, r *http.Request,
	codec transport.Codec, greet bool) {

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("transport", codec.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("Transport client connected",
		slog.String("transport", codec.Name()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	wrapped := newWSConn(conn)

	upstream, err := realtime.Dial(r.Context(), realtime.Config{
		URL:                  h.config.OpenAI.RealtimeURL,
		APIKey:               h.config.OpenAI.APIKey,
		Model:                h.config.OpenAI.Model,
		Temperature:          h.config.OpenAI.Temperature,
		Voice:                h.config.OpenAI.Voice,
		Instructions:         h.config.OpenAI.Instructions,
		VADThreshold:         h.config.VAD.Threshold,
		VADPrefixPaddingMs:   h.config.VAD.PrefixPaddingMs,
		VADSilenceDurationMs: h.config.VAD.SilenceDurationMs,
	}, codec.AudioFormat(), h.logger)
	if err != nil {
		// the caller only ever sees the stream end
		h.logger.Error("Failed to establish upstream session",
			slog.String("transport", codec.Name()),
			slog.String("error", err.Error()),
		)
		wrapped.Close()
		return
	}

	if greet && h.config.OpenAI.Greeting != "" {
		if err := upstream.SendGreeting(h.config.OpenAI.Greeting); err != nil {
			h.logger.Warn("Failed to send greeting", slog.String("error", err.Error()))
		}
	}

	var injector relay.ContextProvider
	if h.ragClient != nil {
		injector = h.ragClient
	}

	rl := relay.New(codec, wrapped, upstream, injector, h.logger, h.metrics)

	id, err := h.supervisor.Add(rl)
	if err != nil {
		h.logger.Warn("Rejecting connection", slog.String("error", err.Error()))
		upstream.Close()
		wrapped.Close()
		return
	}
	defer h.supervisor.Remove(id)

	if err := rl.Run(context.Background()); err != nil {
		h.logger.Warn("Relay ended with error",
			slog.String("transport", codec.Name()),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Transport client disconnected",
		slog.String("transport", codec.Name()),
	)
}

// ragClientOrNil builds the retrieval client when RAG is configured.
// Initialization failure disables retrieval for the process; it never blocks
// serving calls.
func ragClientOrNil(h *HTTPServer) *rag.Client {
	if !h.config.RAG.Enabled {
		return nil
	}

	embedder := rag.NewOpenAIEmbedder(h.config.OpenAI.APIKey, h.config.RAG.EmbeddingModel)

	client, err := rag.NewClient(rag.Config{
		URL:        h.config.RAG.QdrantURL,
		APIKey:     h.config.RAG.QdrantAPIKey,
		Collection: h.config.RAG.Collection,
		TopK:       h.config.RAG.TopK,
		Timeout:    h.config.RAG.GetTimeoutDuration(),
	}, embedder, h.logger)
	if err != nil {
		h.logger.Warn("Retrieval disabled", slog.String("error", err.Error()))
		return nil
	}

	h.logger.Info("Retrieval client initialized",
		slog.String("collection", h.config.RAG.Collection),
		slog.Int("top_k", h.config.RAG.TopK),
	)

	return client
}
