package relay

// Truncation tells the upstream session how much of an assistant utterance
// was actually heard before the caller started talking over it
type Truncation struct {
	ItemID    string
	ElapsedMs int64
}

// Controller decides, from the session state and an incoming signal, whether
// a new assistant turn has started, whether caller speech interrupts an
// in-flight turn, and the exact truncation offset to report upstream.
// It performs no I/O and never blocks; callers serialize access through the
// Relay's mutex.
type Controller struct {
	useClock   bool
	bytesPerMs int64
}

// NewController creates a controller for one transport variant.
// Clock-driven transports measure elapsed playback from the transport's own
// media clock; byte-counted ones divide accumulated bytes by bytesPerMs.
func NewController(useClock bool, bytesPerMs int64) *Controller {
	return &Controller{useClock: useClock, bytesPerMs: bytesPerMs}
}

// AudioDelta observes one assistant audio delta. A delta whose item id
// differs from the current one (including from empty) starts a new turn:
// the accumulator resets, the clock anchor is taken, and the session enters
// the responding state, all together. Returns whether a new turn started.
func (c *Controller) AudioDelta(s *Session, itemID string, deltaBytes int64) bool {
	if deltaBytes < 0 {
		deltaBytes = 0
	}

	newTurn := itemID != "" && itemID != s.ItemID
	if newTurn {
		s.ItemID = itemID
		s.BytesSent = 0
		s.ResponseStartMs = s.ClockMs
		s.Responding = true
	}

	if !c.useClock {
		s.BytesSent += deltaBytes
	}

	return newTurn
}

// ResponseCompleted marks the current turn as finished playing. The item id
// is retained until the next turn begins: late-arriving pacing acks still
// need it.
func (c *Controller) ResponseCompleted(s *Session) {
	s.Responding = false
}

// SpeechStarted handles a caller speech onset. If nothing is in flight the
// decision is a no-op and the session is untouched. Otherwise it computes the
// elapsed playback for the current turn and resets the session to the
// no-turn-in-flight state, which makes a repeated speech-started signal a
// guaranteed no-op.
func (c *Controller) SpeechStarted(s *Session) (Truncation, bool) {
	if s.ItemID == "" || !s.Responding {
		return Truncation{}, false
	}

	var elapsedMs int64
	if c.useClock {
		elapsedMs = s.ClockMs - s.ResponseStartMs
		if elapsedMs < 0 {
			elapsedMs = 0
		}
	} else {
		elapsedMs = s.BytesSent / c.bytesPerMs
	}

	decision := Truncation{ItemID: s.ItemID, ElapsedMs: elapsedMs}
	s.resetTurn()
	return decision, true
}

// MarkAcknowledged pops the oldest pending pacing marker, if any
func (c *Controller) MarkAcknowledged(s *Session) {
	s.PopMark()
}
