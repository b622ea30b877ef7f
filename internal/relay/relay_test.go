package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mhsFlairs/voicebridge/internal/metrics"
	"github.com/mhsFlairs/voicebridge/internal/realtime"
	"github.com/mhsFlairs/voicebridge/internal/transport"
)

// fakeUpstream records everything the relay sends and lets tests feed
// server events to the outbound pump
type fakeUpstream struct {
	mu        sync.Mutex
	audio     []string
	truncates []Truncation
	contexts  []string
	live      bool
	closed    bool

	events    chan realtime.ServerEvent
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		live:   true,
		events: make(chan realtime.ServerEvent, 16),
	}
}

func (f *fakeUpstream) SendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, payload)
	return nil
}

func (f *fakeUpstream) SendTruncate(itemID string, audioEndMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncates = append(f.truncates, Truncation{ItemID: itemID, ElapsedMs: audioEndMs})
	return nil
}

func (f *fakeUpstream) SendContext(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, text)
	return nil
}

func (f *fakeUpstream) Events() <-chan realtime.ServerEvent {
	return f.events
}

func (f *fakeUpstream) IsLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	f.live = false
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeUpstream) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeUpstream) truncateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.truncates)
}

// fakeConn is a scriptable transport connection
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	writes  [][]byte

	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) writesContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, w := range f.writes {
		if strings.Contains(string(w), substr) {
			count++
		}
	}
	return count
}

type fakeInjector struct {
	result string
	err    error
}

func (f *fakeInjector) Context(ctx context.Context, query string) (string, error) {
	return f.result, f.err
}

func testRelay(t *testing.T, codec transport.Codec, conn Conn, upstream Upstream,
	injector ContextProvider) *Relay {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	return New(codec, conn, upstream, injector, logger, m)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func twilioMediaFrame(t *testing.T, timestamp int64, payload string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{
			"timestamp": timestamp,
			"payload":   payload,
		},
	})
	if err != nil {
		t.Fatalf("failed to build media frame: %v", err)
	}
	return data
}

func TestRelayStopsWhenTransportStops(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	rl := testRelay(t, transport.NewTwilioCodec(), conn, upstream, nil)

	conn.inbound <- []byte(`{"event":"start","start":{"streamSid":"MZ1"}}`)
	conn.inbound <- []byte(`{"event":"stop"}`)

	if err := rl.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	upstream.mu.Lock()
	closed := upstream.closed
	upstream.mu.Unlock()
	if !closed {
		t.Error("upstream must be closed when the transport stops")
	}
}

func TestRelayForwardsCallerAudio(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	rl := testRelay(t, transport.NewTwilioCodec(), conn, upstream, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	conn.inbound <- []byte(`{"event":"start","start":{"streamSid":"MZ1"}}`)
	conn.inbound <- twilioMediaFrame(t, 100, "cGF5bG9hZA==")

	waitFor(t, func() bool { return upstream.audioCount() == 1 },
		"caller audio was not forwarded upstream")

	upstream.mu.Lock()
	got := upstream.audio[0]
	upstream.mu.Unlock()
	if got != "cGF5bG9hZA==" {
		t.Errorf("forwarded payload = %q, want %q", got, "cGF5bG9hZA==")
	}

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestRelaySkipsAudioWhenUpstreamDead(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	upstream.live = false
	rl := testRelay(t, transport.NewTwilioCodec(), conn, upstream, nil)

	conn.inbound <- twilioMediaFrame(t, 100, "cGF5bG9hZA==")
	conn.inbound <- []byte(`{"event":"stop"}`)

	if err := rl.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if n := upstream.audioCount(); n != 0 {
		t.Errorf("forwarded %d audio frames to a dead upstream, want 0", n)
	}
}

func TestRelayBargeInClockTransport(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	rl := testRelay(t, transport.NewTwilioCodec(), conn, upstream, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	conn.inbound <- []byte(`{"event":"start","start":{"streamSid":"MZ42"}}`)
	conn.inbound <- twilioMediaFrame(t, 1000, "aW4=")
	waitFor(t, func() bool { return upstream.audioCount() == 1 },
		"first media frame not forwarded")

	delta := base64.StdEncoding.EncodeToString(make([]byte, 160))
	upstream.events <- realtime.ServerEvent{
		Type:   realtime.EventTypeAudioDelta,
		ItemID: "item_a1",
		Delta:  delta,
	}
	waitFor(t, func() bool { return conn.writesContaining(`"event":"media"`) == 1 },
		"assistant audio not written to transport")
	if n := conn.writesContaining(`"event":"mark"`); n != 1 {
		t.Errorf("mark frames written = %d, want 1", n)
	}

	conn.inbound <- twilioMediaFrame(t, 1450, "aW4=")
	waitFor(t, func() bool { return upstream.audioCount() == 2 },
		"second media frame not forwarded")

	upstream.events <- realtime.ServerEvent{Type: realtime.EventTypeSpeechStarted}
	waitFor(t, func() bool { return upstream.truncateCount() == 1 },
		"truncate not sent on speech onset")

	upstream.mu.Lock()
	decision := upstream.truncates[0]
	upstream.mu.Unlock()
	if decision.ItemID != "item_a1" {
		t.Errorf("truncated item = %q, want %q", decision.ItemID, "item_a1")
	}
	if decision.ElapsedMs != 450 {
		t.Errorf("truncated at %d ms, want 450", decision.ElapsedMs)
	}

	waitFor(t, func() bool { return conn.writesContaining(`"event":"clear"`) == 1 },
		"clear not written to transport on interruption")

	// A duplicate onset must not truncate again
	upstream.events <- realtime.ServerEvent{Type: realtime.EventTypeSpeechStarted}
	upstream.events <- realtime.ServerEvent{Type: realtime.EventTypeResponseDone}
	waitFor(t, func() bool {
		info := rl.Info()
		return !info.Responding
	}, "session still responding after reset")
	if n := upstream.truncateCount(); n != 1 {
		t.Errorf("truncates sent = %d, want 1", n)
	}

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestRelayBargeInByteTransport(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	rl := testRelay(t, transport.NewMicCodec(48), conn, upstream, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	for _, size := range []int{480, 480, 960} {
		upstream.events <- realtime.ServerEvent{
			Type:   realtime.EventTypeAudioDelta,
			ItemID: "item_b2",
			Delta:  base64.StdEncoding.EncodeToString(make([]byte, size)),
		}
	}
	waitFor(t, func() bool { return conn.writesContaining(`"type":"audio"`) == 3 },
		"assistant audio not written to transport")

	if n := conn.writesContaining(`"type":"response_start"`); n != 1 {
		t.Errorf("response_start frames written = %d, want 1", n)
	}

	upstream.events <- realtime.ServerEvent{Type: realtime.EventTypeSpeechStarted}
	waitFor(t, func() bool { return upstream.truncateCount() == 1 },
		"truncate not sent on speech onset")

	upstream.mu.Lock()
	decision := upstream.truncates[0]
	upstream.mu.Unlock()
	if decision.ItemID != "item_b2" {
		t.Errorf("truncated item = %q, want %q", decision.ItemID, "item_b2")
	}
	if decision.ElapsedMs != 40 {
		t.Errorf("truncated at %d ms, want 40 (1920 bytes / 48 per ms)", decision.ElapsedMs)
	}

	waitFor(t, func() bool { return conn.writesContaining(`"audio_end_ms":40`) == 1 },
		"stop_audio not written to transport on interruption")

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestRelayIgnoresUndecodableFrames(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	rl := testRelay(t, transport.NewTwilioCodec(), conn, upstream, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	conn.inbound <- []byte(`not json at all`)
	conn.inbound <- twilioMediaFrame(t, 10, "b2s=")

	waitFor(t, func() bool { return upstream.audioCount() == 1 },
		"valid frame after a bad one was not forwarded")

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestRelayInjectsContextOnTranscript(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	injector := &fakeInjector{result: "Source 1:\nThe store opens at nine."}
	rl := testRelay(t, transport.NewMicCodec(48), conn, upstream, injector)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	upstream.events <- realtime.ServerEvent{
		Type:       realtime.EventTypeTranscriptCompleted,
		Transcript: "When does the store open?",
	}

	waitFor(t, func() bool {
		upstream.mu.Lock()
		defer upstream.mu.Unlock()
		return len(upstream.contexts) == 1
	}, "retrieved context was not forwarded upstream")

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestRelayContextFailureIsSilent(t *testing.T) {
	conn := newFakeConn()
	upstream := newFakeUpstream()
	injector := &fakeInjector{err: errors.New("qdrant unreachable")}
	rl := testRelay(t, transport.NewMicCodec(48), conn, upstream, injector)

	runDone := make(chan error, 1)
	go func() { runDone <- rl.Run(context.Background()) }()

	upstream.events <- realtime.ServerEvent{
		Type:       realtime.EventTypeTranscriptCompleted,
		Transcript: "anything",
	}
	upstream.events <- realtime.ServerEvent{
		Type:   realtime.EventTypeAudioDelta,
		ItemID: "item_ok",
		Delta:  base64.StdEncoding.EncodeToString(make([]byte, 48)),
	}

	// The relay keeps working; the failed lookup injects nothing
	waitFor(t, func() bool { return conn.writesContaining(`"type":"audio"`) == 1 },
		"relay stopped relaying after a context failure")

	upstream.mu.Lock()
	injected := len(upstream.contexts)
	upstream.mu.Unlock()
	if injected != 0 {
		t.Errorf("injected %d contexts after a failed lookup, want 0", injected)
	}

	close(conn.inbound)
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestDecodedLength(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "one byte", size: 1},
		{name: "two bytes", size: 2},
		{name: "three bytes", size: 3},
		{name: "one frame", size: 160},
		{name: "odd size", size: 479},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base64.StdEncoding.EncodeToString(make([]byte, tt.size))
			if got := decodedLength(payload); got != int64(tt.size) {
				t.Errorf("decodedLength(%d-byte payload) = %d, want %d", tt.size, got, tt.size)
			}
		})
	}
}

func TestNormalCloseIsExpected(t *testing.T) {
	if !isExpectedClose(NormalClose(errors.New("websocket: close 1000"))) {
		t.Error("wrapped close error should be treated as expected")
	}
	if !isExpectedClose(io.EOF) {
		t.Error("EOF should be treated as expected")
	}
	if isExpectedClose(errors.New("connection reset")) {
		t.Error("arbitrary errors are not expected closes")
	}
}
