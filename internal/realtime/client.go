package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Config contains everything needed to dial and configure one session
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Temperature  float64
	Voice        string
	Instructions string

	// Server VAD settings forwarded in session.update
	VADThreshold         float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int
}

// Client is one duplex Realtime API session. Sends are best-effort: writing
// to a session that is no longer live is a silent no-op, never an error. The
// relay checks IsLive before forwarding caller audio and everything else
// degrades the same way.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan ServerEvent

	mu   sync.Mutex
	live bool

	wg sync.WaitGroup
}

// Dial connects to the Realtime API, configures the session for the given
// transport audio format, and starts the event reader. The returned client's
// Events channel closes when the connection ends for any reason.
func Dial(ctx context.Context, cfg Config, format string, logger *slog.Logger) (*Client, error) {
	wsURL, err := buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build realtime url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		events: make(chan ServerEvent, 64),
		live:   true,
	}

	if err := c.configureSession(cfg, format); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure session: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop()

	logger.Info("Realtime session established",
		slog.String("model", cfg.Model),
		slog.String("audio_format", format),
	)

	return c, nil
}

// buildURL appends model and temperature query parameters to the base URL
func buildURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("temperature", strconv.FormatFloat(cfg.Temperature, 'g', -1, 64))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// configureSession sends the one-time session.update blob
func (c *Client) configureSession(cfg Config, format string) error {
	update := sessionUpdateEvent{
		Type: "session.update",
		Session: sessionConfig{
			Type:             "realtime",
			Model:            cfg.Model,
			OutputModalities: []string{"audio"},
			Audio: audioConfig{
				Input: audioInputConfig{
					Format: audioFormat{Type: format},
					TurnDetection: &turnDetection{
						Type:              "server_vad",
						Threshold:         cfg.VADThreshold,
						PrefixPaddingMs:   cfg.VADPrefixPaddingMs,
						SilenceDurationMs: cfg.VADSilenceDurationMs,
					},
				},
				Output: audioOutputConfig{
					Format: audioFormat{Type: format},
					Voice:  cfg.Voice,
				},
			},
			Instructions: cfg.Instructions,
		},
	}

	return c.writeJSON(update)
}

// readLoop delivers server events until the connection ends, then closes the
// events channel so consumers observe end-of-stream
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasLive := c.live
			c.live = false
			c.mu.Unlock()

			if wasLive {
				c.logger.Info("Realtime session ended", slog.String("reason", err.Error()))
			}
			return
		}

		var event ServerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Warn("Failed to parse realtime event", slog.String("error", err.Error()))
			continue
		}

		if loggedEventTypes[event.Type] {
			attrs := []any{slog.String("type", event.Type)}
			if event.ItemID != "" {
				attrs = append(attrs, slog.String("item_id", event.ItemID))
			}
			if event.Error != nil {
				attrs = append(attrs, slog.String("error", event.Error.Message))
			}
			c.logger.Info("Realtime event", attrs...)
		}

		c.events <- event
	}
}

// writeJSON serializes writes; gorilla allows only one concurrent writer.
// Writes against a dead session are dropped silently.
func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live {
		return nil
	}

	if err := c.conn.WriteJSON(v); err != nil {
		c.live = false
		return fmt.Errorf("realtime write failed: %w", err)
	}

	return nil
}

// SendAudio forwards one base64 audio payload into the input buffer
func (c *Client) SendAudio(payload string) error {
	return c.writeJSON(inputAudioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: payload,
	})
}

// SendTruncate tells the model how many milliseconds of the given assistant
// item were actually heard before the caller interrupted
func (c *Client) SendTruncate(itemID string, audioEndMs int64) error {
	return c.writeJSON(itemTruncateEvent{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	})
}

// SendGreeting injects a user message and requests a response so the
// assistant speaks first
func (c *Client) SendGreeting(text string) error {
	if err := c.writeJSON(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []itemContent{
				{Type: "input_text", Text: text},
			},
		},
	}); err != nil {
		return err
	}

	return c.writeJSON(responseCreateEvent{Type: "response.create"})
}

// SendContext forwards retrieved knowledge as an out-of-band system message
// so the next model turn can use it
func (c *Client) SendContext(text string) error {
	return c.writeJSON(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "system",
			Content: []itemContent{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// Events returns the server event stream. The channel closes when the
// session ends; it is not restartable.
func (c *Client) Events() <-chan ServerEvent {
	return c.events
}

// IsLive reports whether the session can still accept sends
func (c *Client) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Close tears the session down and waits for the reader to finish
func (c *Client) Close() error {
	c.mu.Lock()
	wasLive := c.live
	c.live = false
	c.mu.Unlock()

	if wasLive {
		// best effort close frame before dropping the socket
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	err := c.conn.Close()
	c.wg.Wait()
	return err
}
