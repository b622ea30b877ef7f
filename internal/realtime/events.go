package realtime

// Server event types the relay acts on
const (
	EventTypeAudioDelta          = "response.output_audio.delta"
	EventTypeSpeechStarted       = "input_audio_buffer.speech_started"
	EventTypeResponseDone        = "response.done"
	EventTypeTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeError               = "error"
)

// loggedEventTypes are the server events worth surfacing in the log stream;
// everything else (per-delta events mostly) would drown the output
var loggedEventTypes = map[string]bool{
	"error":                                true,
	"response.content.done":                true,
	"rate_limits.updated":                  true,
	"response.done":                        true,
	"input_audio_buffer.committed":         true,
	"input_audio_buffer.speech_stopped":    true,
	"input_audio_buffer.speech_started":    true,
	"session.created":                      true,
	"session.updated":                      true,
}

// ServerEvent is one structured event from the Realtime API. Only the fields
// the relay cares about are decoded; the rest of the payload is dropped.
type ServerEvent struct {
	Type       string      `json:"type"`
	EventID    string      `json:"event_id,omitempty"`
	ItemID     string      `json:"item_id,omitempty"`
	Delta      string      `json:"delta,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Error      *EventError `json:"error,omitempty"`
}

// EventError carries the error body of an "error" type server event
type EventError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// Client event shapes (outgoing)

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Type             string      `json:"type"`
	Model            string      `json:"model"`
	OutputModalities []string    `json:"output_modalities"`
	Audio            audioConfig `json:"audio"`
	Instructions     string      `json:"instructions"`
}

type audioConfig struct {
	Input  audioInputConfig  `json:"input"`
	Output audioOutputConfig `json:"output"`
}

type audioInputConfig struct {
	Format        audioFormat    `json:"format"`
	TurnDetection *turnDetection `json:"turn_detection,omitempty"`
}

type audioOutputConfig struct {
	Format audioFormat `json:"format"`
	Voice  string      `json:"voice"`
}

type audioFormat struct {
	Type string `json:"type"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}
