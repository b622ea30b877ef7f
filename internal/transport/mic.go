package transport

import (
	"encoding/json"
	"fmt"
)

// MicCodec implements the browser microphone framing. Frames are flat JSON
// envelopes keyed by "type" with no transport clock; elapsed playback is
// derived from the number of bytes emitted at a fixed sample rate and bit
// depth. There is no mark/ack handshake.
type MicCodec struct {
	bytesPerMs int64
}

// NewMicCodec creates a codec for browser microphone connections.
// bytesPerMs is the audio format's byte-to-millisecond conversion factor
// (48 for 24kHz 16-bit mono PCM).
func NewMicCodec(bytesPerMs int64) *MicCodec {
	return &MicCodec{bytesPerMs: bytesPerMs}
}

type micInbound struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

type micAudioOut struct {
	Type   string `json:"type"`
	Data   string `json:"data"`
	ItemID string `json:"item_id,omitempty"`
}

type micResponseStart struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id"`
}

type micStopAudio struct {
	Type       string `json:"type"`
	AudioEndMs int64  `json:"audio_end_ms"`
}

// Name implements Codec
func (c *MicCodec) Name() string { return "mic" }

// AudioFormat implements Codec. The browser client captures PCM16 at 24kHz.
func (c *MicCodec) AudioFormat() string { return "audio/pcm16" }

// UsesClock implements Codec
func (c *MicCodec) UsesClock() bool { return false }

// BytesPerMs implements Codec
func (c *MicCodec) BytesPerMs() int64 { return c.bytesPerMs }

// DecodeFrame implements Codec
func (c *MicCodec) DecodeFrame(data []byte) (Frame, error) {
	var msg micInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, fmt.Errorf("failed to parse mic frame: %w", err)
	}

	switch msg.Type {
	case "audio":
		if msg.Data == "" {
			return Frame{}, fmt.Errorf("audio message without data")
		}
		return Frame{Kind: KindMedia, Payload: msg.Data}, nil

	case "stop":
		return Frame{Kind: KindStop}, nil

	default:
		return Frame{Kind: KindUnknown}, nil
	}
}

// EncodeAudio implements Codec
func (c *MicCodec) EncodeAudio(streamID, itemID, payload string) ([]byte, error) {
	return json.Marshal(micAudioOut{
		Type:   "audio",
		Data:   payload,
		ItemID: itemID,
	})
}

// EncodeTurnStart implements Codec. The browser client is told explicitly
// when a new assistant response begins so it can reset its playback queue.
func (c *MicCodec) EncodeTurnStart(itemID string) ([]byte, bool) {
	data, err := json.Marshal(micResponseStart{
		Type:   "response_start",
		ItemID: itemID,
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// EncodeMark implements Codec. Microphone sessions have no pacing handshake.
func (c *MicCodec) EncodeMark(streamID string) ([]byte, bool) {
	return nil, false
}

// EncodeClear implements Codec
func (c *MicCodec) EncodeClear(streamID string, audioEndMs int64) ([]byte, bool) {
	data, err := json.Marshal(micStopAudio{
		Type:       "stop_audio",
		AudioEndMs: audioEndMs,
	})
	if err != nil {
		return nil, false
	}
	return data, true
}
