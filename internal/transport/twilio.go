package transport

import (
	"encoding/json"
	"fmt"
)

// TwilioCodec implements the Twilio Media Stream framing. Frames are JSON
// envelopes keyed by "event"; media frames carry the transport's own playback
// clock as an integer millisecond timestamp, and playback pacing uses
// mark/ack round trips.
type TwilioCodec struct{}

// NewTwilioCodec creates a codec for Twilio Media Stream connections
func NewTwilioCodec() *TwilioCodec {
	return &TwilioCodec{}
}

// twilioInbound covers the inbound message shapes of the Media Stream protocol
type twilioInbound struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid string `json:"streamSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Timestamp json.Number `json:"timestamp"`
		Payload   string      `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

type twilioMediaOut struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     twilioMediaBody `json:"media"`
}

type twilioMediaBody struct {
	Payload string `json:"payload"`
}

type twilioMarkOut struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Mark      twilioMarkBody `json:"mark"`
}

type twilioMarkBody struct {
	Name string `json:"name"`
}

type twilioClearOut struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// MarkName is the pacing marker label attached to every outbound audio frame
const MarkName = "responsePart"

// Name implements Codec
func (c *TwilioCodec) Name() string { return "twilio" }

// AudioFormat implements Codec. Twilio Media Streams carry μ-law 8kHz audio.
func (c *TwilioCodec) AudioFormat() string { return "audio/pcmu" }

// UsesClock implements Codec
func (c *TwilioCodec) UsesClock() bool { return true }

// BytesPerMs implements Codec
func (c *TwilioCodec) BytesPerMs() int64 { return 0 }

// DecodeFrame implements Codec
func (c *TwilioCodec) DecodeFrame(data []byte) (Frame, error) {
	var msg twilioInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, fmt.Errorf("failed to parse twilio frame: %w", err)
	}

	switch msg.Event {
	case "media":
		if msg.Media == nil {
			return Frame{}, fmt.Errorf("media event without media body")
		}
		frame := Frame{Kind: KindMedia, Payload: msg.Media.Payload}
		if ts, err := msg.Media.Timestamp.Int64(); err == nil {
			frame.ClockMs = ts
			frame.HasClock = true
		}
		return frame, nil

	case "start":
		if msg.Start == nil || msg.Start.StreamSid == "" {
			return Frame{}, fmt.Errorf("start event without streamSid")
		}
		return Frame{Kind: KindStart, StreamID: msg.Start.StreamSid}, nil

	case "mark":
		return Frame{Kind: KindMark}, nil

	case "stop":
		return Frame{Kind: KindStop}, nil

	default:
		return Frame{Kind: KindUnknown}, nil
	}
}

// EncodeAudio implements Codec. Twilio audio goes out byte-for-byte in the
// same encoding it arrived from upstream, re-wrapped in the media envelope.
func (c *TwilioCodec) EncodeAudio(streamID, itemID, payload string) ([]byte, error) {
	return json.Marshal(twilioMediaOut{
		Event:     "media",
		StreamSid: streamID,
		Media:     twilioMediaBody{Payload: payload},
	})
}

// EncodeTurnStart implements Codec. Twilio needs no explicit new-turn
// notification; timestamp anchoring happens in the session state.
func (c *TwilioCodec) EncodeTurnStart(itemID string) ([]byte, bool) {
	return nil, false
}

// EncodeMark implements Codec
func (c *TwilioCodec) EncodeMark(streamID string) ([]byte, bool) {
	data, err := json.Marshal(twilioMarkOut{
		Event:     "mark",
		StreamSid: streamID,
		Mark:      twilioMarkBody{Name: MarkName},
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// EncodeClear implements Codec
func (c *TwilioCodec) EncodeClear(streamID string, audioEndMs int64) ([]byte, bool) {
	data, err := json.Marshal(twilioClearOut{
		Event:     "clear",
		StreamSid: streamID,
	})
	if err != nil {
		return nil, false
	}
	return data, true
}
