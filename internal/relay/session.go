package relay

import (
	"time"
)

// Session holds the per-connection turn state shared by the two relay pumps.
// All mutation happens through Controller calls under the owning Relay's
// mutex; Session itself carries no locking.
type Session struct {
	// StreamID is the transport-assigned correlation id. Empty until the
	// transport signals stream start; microphone sessions have no such
	// handshake and keep it empty.
	StreamID string

	// ClockMs is the latest transport-reported playback timestamp.
	// Monotonic non-decreasing, advanced only by inbound media frames.
	ClockMs int64

	// ItemID identifies the in-flight assistant utterance, empty when no
	// response is being played back.
	ItemID string

	// ResponseStartMs anchors the transport clock at turn start
	// (clock-driven transports only).
	ResponseStartMs int64

	// BytesSent accumulates decoded assistant audio bytes for the current
	// turn (byte-counted transports only).
	BytesSent int64

	// Responding is true between the first audio delta of an utterance and
	// its completion or interruption.
	Responding bool

	// StartTime is when the session was accepted, for monitoring
	StartTime time.Time

	// marks is the ordered queue of pacing acknowledgment tokens.
	// Append-only from the outbound pump, popped on transport acks.
	marks []string
}

// NewSession creates session state for one accepted connection
func NewSession() *Session {
	return &Session{StartTime: time.Now()}
}

// BeginStream records the transport's stream-start handshake and zeroes all
// playback bookkeeping
func (s *Session) BeginStream(streamID string) {
	s.StreamID = streamID
	s.ClockMs = 0
	s.ItemID = ""
	s.ResponseStartMs = 0
	s.BytesSent = 0
	s.Responding = false
	s.marks = nil
}

// AdvanceClock moves the transport clock forward. A timestamp lower than the
// current value is transport jitter and is ignored.
func (s *Session) AdvanceClock(ms int64) {
	if ms > s.ClockMs {
		s.ClockMs = ms
	}
}

// PushMark appends a pacing marker token
func (s *Session) PushMark(name string) {
	s.marks = append(s.marks, name)
}

// PopMark removes the oldest pending marker. Acks arriving after a turn reset
// are expected and silently dropped.
func (s *Session) PopMark() bool {
	if len(s.marks) == 0 {
		return false
	}
	s.marks = s.marks[1:]
	return true
}

// PendingMarks returns the number of unacknowledged pacing markers
func (s *Session) PendingMarks() int {
	return len(s.marks)
}

// resetTurn clears every piece of turn state at once. Partial transitions
// would break the idempotence of repeated speech-started signals.
func (s *Session) resetTurn() {
	s.ItemID = ""
	s.ResponseStartMs = 0
	s.BytesSent = 0
	s.Responding = false
	s.marks = nil
}
