package transport

// Frame kinds produced by Codec.DecodeFrame
const (
	KindUnknown = iota
	KindMedia
	KindStart
	KindMark
	KindStop
)

// Frame is a decoded transport message. Payload is base64 audio for media
// frames and is treated as an opaque blob everywhere else.
type Frame struct {
	Kind     int
	Payload  string
	ClockMs  int64
	HasClock bool
	StreamID string
}

// Codec translates between raw websocket messages and frames for one
// transport variant. Encode methods that a transport does not support
// return ok=false and the relay skips the write.
type Codec interface {
	// Name identifies the transport variant for logging and metrics
	Name() string

	// AudioFormat returns the Realtime API audio format for this transport
	AudioFormat() string

	// UsesClock reports whether playback progress is measured by the
	// transport's own media clock rather than by counting emitted bytes
	UsesClock() bool

	// BytesPerMs returns the byte-to-millisecond conversion factor for
	// byte-counted transports, 0 for clock-driven ones
	BytesPerMs() int64

	// DecodeFrame parses one raw inbound message into a Frame
	DecodeFrame(data []byte) (Frame, error)

	// EncodeAudio wraps one base64 audio payload in the transport envelope
	EncodeAudio(streamID, itemID, payload string) ([]byte, error)

	// EncodeTurnStart produces the new-turn notification, if the
	// transport has one
	EncodeTurnStart(itemID string) ([]byte, bool)

	// EncodeMark produces a pacing marker frame, if the transport
	// requires mark/ack pacing
	EncodeMark(streamID string) ([]byte, bool)

	// EncodeClear produces the stop-playback command sent on barge-in
	EncodeClear(streamID string, audioEndMs int64) ([]byte, bool)
}

// KindString converts a frame kind to a human-readable string
func KindString(kind int) string {
	switch kind {
	case KindMedia:
		return "media"
	case KindStart:
		return "start"
	case KindMark:
		return "mark"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}
