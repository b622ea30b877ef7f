package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mhsFlairs/voicebridge/internal/metrics"
	"github.com/mhsFlairs/voicebridge/internal/realtime"
	"github.com/mhsFlairs/voicebridge/internal/transport"
)

// Upstream is the duplex channel to the speech model. Satisfied by
// realtime.Client; faked in tests.
type Upstream interface {
	SendAudio(payload string) error
	SendTruncate(itemID string, audioEndMs int64) error
	SendContext(text string) error
	Events() <-chan realtime.ServerEvent
	IsLive() bool
	Close() error
}

// Conn is one accepted transport connection carrying raw frames
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// ContextProvider retrieves knowledge for a completed caller transcript.
// Optional capability; a nil provider disables injection entirely.
type ContextProvider interface {
	Context(ctx context.Context, query string) (string, error)
}

// Relay runs the two pumps of one session: transport frames up to the model,
// model events back down to the transport, with the interruption controller
// arbitrating turn state in between. Run returns when either side's stream
// ends, and guarantees both ports are closed by then.
type Relay struct {
	codec    transport.Codec
	conn     Conn
	upstream Upstream
	injector ContextProvider
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctrl *Controller
	sess *Session

	// mu guards sess; both pumps run controller calls under it
	mu sync.Mutex

	teardown sync.Once
}

// New creates a relay over one transport connection and one upstream session.
// injector may be nil when retrieval is not configured.
func New(codec transport.Codec, conn Conn, upstream Upstream, injector ContextProvider,
	logger *slog.Logger, m *metrics.Metrics) *Relay {

	return &Relay{
		codec:    codec,
		conn:     conn,
		upstream: upstream,
		injector: injector,
		logger:   logger.With(slog.String("transport", codec.Name())),
		metrics:  m,
		ctrl:     NewController(codec.UsesClock(), codec.BytesPerMs()),
		sess:     NewSession(),
	}
}

// Run executes both pumps until either underlying stream ends. Whichever
// side finishes first tears the other down; there is no half-open state.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	r.metrics.ActiveSessions.Inc()
	r.metrics.SessionsCreated.WithLabelValues(r.codec.Name()).Inc()

	defer func() {
		r.closeBoth()
		r.metrics.ActiveSessions.Dec()
		r.metrics.SessionsClosed.WithLabelValues(r.codec.Name()).Inc()
		r.metrics.SessionDuration.Observe(time.Since(start).Seconds())
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer r.closeBoth()
		errCh <- r.inboundPump(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer r.closeBoth()
		errCh <- r.outboundPump()
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// closeBoth releases both ports exactly once. Closing the upstream makes its
// event channel close, which ends the outbound pump; closing the transport
// connection fails the inbound pump's pending read.
func (r *Relay) closeBoth() {
	r.teardown.Do(func() {
		if err := r.upstream.Close(); err != nil {
			r.logger.Debug("Error closing upstream session", slog.String("error", err.Error()))
		}
		if err := r.conn.Close(); err != nil {
			r.logger.Debug("Error closing transport connection", slog.String("error", err.Error()))
		}
	})
}

// inboundPump forwards decoded transport frames to the upstream session
func (r *Relay) inboundPump(ctx context.Context) error {
	for {
		data, err := r.conn.ReadFrame()
		if err != nil {
			if isExpectedClose(err) || ctx.Err() != nil {
				r.logger.Info("Transport stream ended")
				return nil
			}
			r.logger.Warn("Transport read failed", slog.String("error", err.Error()))
			return err
		}

		frame, err := r.codec.DecodeFrame(data)
		if err != nil {
			// one bad frame never ends the stream
			r.metrics.DecodeErrors.WithLabelValues(r.codec.Name()).Inc()
			r.logger.Warn("Dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}

		r.metrics.FramesInbound.WithLabelValues(r.codec.Name(), transport.KindString(frame.Kind)).Inc()

		switch frame.Kind {
		case transport.KindMedia:
			r.mu.Lock()
			if frame.HasClock {
				r.sess.AdvanceClock(frame.ClockMs)
			}
			r.mu.Unlock()

			if frame.Payload != "" {
				if r.upstream.IsLive() {
					if err := r.upstream.SendAudio(frame.Payload); err != nil {
						r.logger.Warn("Failed to forward caller audio", slog.String("error", err.Error()))
					}
				} else {
					r.metrics.UpstreamSendSkips.Inc()
				}
			}

		case transport.KindStart:
			r.mu.Lock()
			r.sess.BeginStream(frame.StreamID)
			r.mu.Unlock()

			r.logger.Info("Incoming stream started", slog.String("stream_id", frame.StreamID))

		case transport.KindMark:
			r.mu.Lock()
			r.ctrl.MarkAcknowledged(r.sess)
			r.mu.Unlock()

		case transport.KindStop:
			r.logger.Info("Transport signalled stop")
			return nil

		default:
			r.logger.Debug("Ignoring unknown frame")
		}
	}
}

// outboundPump consumes upstream events until the event stream closes. After
// a transport write failure it keeps draining events (the inbound pump's
// read failure drives teardown) but stops writing.
func (r *Relay) outboundPump() error {
	transportDown := false

	write := func(data []byte, kind string) {
		if transportDown {
			return
		}
		if err := r.conn.WriteFrame(data); err != nil {
			transportDown = true
			r.logger.Warn("Transport write failed", slog.String("error", err.Error()))
			return
		}
		r.metrics.FramesOutbound.WithLabelValues(r.codec.Name(), kind).Inc()
	}

	for event := range r.upstream.Events() {
		r.metrics.UpstreamEvents.WithLabelValues(event.Type).Inc()

		switch event.Type {
		case realtime.EventTypeAudioDelta:
			if event.Delta == "" {
				continue
			}
			r.handleAudioDelta(event, write)

		case realtime.EventTypeResponseDone:
			r.mu.Lock()
			r.ctrl.ResponseCompleted(r.sess)
			r.mu.Unlock()

		case realtime.EventTypeSpeechStarted:
			r.handleSpeechStarted(write)

		case realtime.EventTypeTranscriptCompleted:
			if r.injector != nil && event.Transcript != "" {
				go r.injectContext(event.Transcript)
			}

		case realtime.EventTypeError:
			if event.Error != nil {
				r.logger.Error("Upstream session error",
					slog.String("code", event.Error.Code),
					slog.String("message", event.Error.Message),
				)
			}
		}
	}

	r.logger.Info("Upstream event stream ended")
	return nil
}

// handleAudioDelta forwards one assistant audio delta downstream, emitting
// the turn-start notification and pacing marker where the transport wants them
func (r *Relay) handleAudioDelta(event realtime.ServerEvent, write func([]byte, string)) {
	deltaBytes := decodedLength(event.Delta)

	r.mu.Lock()
	newTurn := r.ctrl.AudioDelta(r.sess, event.ItemID, deltaBytes)
	streamID := r.sess.StreamID
	clockMs := r.sess.ClockMs
	r.mu.Unlock()

	if newTurn {
		r.logger.Info("Assistant turn started",
			slog.String("item_id", event.ItemID),
			slog.Int64("clock_ms", clockMs),
		)
		if data, ok := r.codec.EncodeTurnStart(event.ItemID); ok {
			write(data, "turn_start")
		}
	}

	data, err := r.codec.EncodeAudio(streamID, event.ItemID, event.Delta)
	if err != nil {
		r.logger.Warn("Failed to encode audio frame", slog.String("error", err.Error()))
		return
	}
	write(data, "media")
	r.metrics.AudioBytesOut.Add(float64(deltaBytes))

	if data, ok := r.codec.EncodeMark(streamID); ok {
		write(data, "mark")
		r.mu.Lock()
		r.sess.PushMark(transport.MarkName)
		r.mu.Unlock()
	}
}

// handleSpeechStarted applies the controller's truncation decision: tell the
// model how much was heard, then tell the transport to stop playback
func (r *Relay) handleSpeechStarted(write func([]byte, string)) {
	r.mu.Lock()
	decision, ok := r.ctrl.SpeechStarted(r.sess)
	streamID := r.sess.StreamID
	r.mu.Unlock()

	if !ok {
		// caller spoke but nothing was playing
		return
	}

	r.logger.Info("Caller interrupted assistant",
		slog.String("item_id", decision.ItemID),
		slog.Int64("elapsed_ms", decision.ElapsedMs),
	)

	if err := r.upstream.SendTruncate(decision.ItemID, decision.ElapsedMs); err != nil {
		r.logger.Warn("Failed to send truncate", slog.String("error", err.Error()))
	}

	if data, ok := r.codec.EncodeClear(streamID, decision.ElapsedMs); ok {
		write(data, "clear")
	}

	r.metrics.RecordTruncation(decision.ElapsedMs)
}

// injectContext runs one retrieval lookup and forwards a non-empty result
// upstream. Failures degrade to no context and are never surfaced to the
// transport or the model.
func (r *Relay) injectContext(transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.metrics.ContextLookups.Inc()

	text, err := r.injector.Context(ctx, transcript)
	if err != nil || text == "" {
		r.metrics.ContextFailures.Inc()
		if err != nil {
			r.logger.Debug("Context lookup failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := r.upstream.SendContext(text); err != nil {
		r.logger.Debug("Failed to forward context", slog.String("error", err.Error()))
	}
}

// Info returns a monitoring snapshot of the session
func (r *Relay) Info() SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return SessionInfo{
		StreamID:     r.sess.StreamID,
		Transport:    r.codec.Name(),
		StartTime:    r.sess.StartTime,
		Duration:     time.Since(r.sess.StartTime),
		ClockMs:      r.sess.ClockMs,
		ItemID:       r.sess.ItemID,
		Responding:   r.sess.Responding,
		PendingMarks: r.sess.PendingMarks(),
	}
}

// SessionInfo is the monitoring view of one relay session
type SessionInfo struct {
	StreamID     string        `json:"stream_id"`
	Transport    string        `json:"transport"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	ClockMs      int64         `json:"clock_ms"`
	ItemID       string        `json:"item_id,omitempty"`
	Responding   bool          `json:"responding"`
	PendingMarks int           `json:"pending_marks"`
}

// decodedLength returns the decoded byte length of a base64 payload without
// allocating the decoded copy
func decodedLength(payload string) int64 {
	n := len(payload)
	if n == 0 {
		return 0
	}

	padding := 0
	if payload[n-1] == '=' {
		padding++
		if n > 1 && payload[n-2] == '=' {
			padding++
		}
	}

	decoded := base64.StdEncoding.DecodedLen(n) // n/4*3 for padded input
	if n%4 == 0 {
		return int64(decoded - padding)
	}
	return int64(decoded)
}

// isExpectedClose reports whether a transport read error is a normal
// end-of-stream rather than a failure worth surfacing
func isExpectedClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *closeError
	return errors.As(err, &closeErr)
}

// closeError lets transport wrappers mark their protocol-level close errors
// as expected without this package importing the websocket library
type closeError struct {
	err error
}

// NormalClose wraps a transport close error so the relay treats it as a
// clean end-of-stream
func NormalClose(err error) error {
	return &closeError{err: err}
}

func (e *closeError) Error() string { return e.err.Error() }

func (e *closeError) Unwrap() error { return e.err }
