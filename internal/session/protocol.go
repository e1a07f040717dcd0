package session

import (
	"encoding/json"
	"fmt"
)

// Inbound message kinds.
const (
	TypeAudioFrame = "audio_frame"
	TypeTextPrompt = "text_prompt"
	TypeStartTurn  = "start_turn"
	TypeStopTurn   = "stop_turn"
	TypeStopAll    = "stop_all"
)

// Outbound message kinds.
const (
	TypeTranscription = "transcription"
	TypeAudioChunk    = "audio_chunk"
	TypeTurnEnd       = "turn_end"
	TypeTurnError     = "turn_error"
	TypeTurnCancelled = "turn_cancelled"
)

// Error kinds carried on turn_error messages that originate in the session
// layer rather than the turn pipeline.
const (
	// ErrorKindBusy rejects a new turn request while another turn is active.
	ErrorKindBusy = "busy"

	// ErrorKindNoSpeech rejects a start_turn request with no buffered speech.
	ErrorKindNoSpeech = "no_speech"

	// ErrorKindEmptyPrompt rejects a text_prompt with no content.
	ErrorKindEmptyPrompt = "empty_prompt"
)

// Inbound is one client-to-server message. Type selects which of the other
// fields are meaningful.
type Inbound struct {
	Type string `json:"type"`

	// audio_frame: little-endian int16 PCM (base64 over the wire) plus its
	// format. SampleRate defaults to 16000, Channels to 1.
	Samples    []byte `json:"samples,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// text_prompt: the prompt text and an optional voice override.
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`

	// start_turn: an optional language override for transcription.
	Language string `json:"language,omitempty"`

	// stop_turn: which turn to cancel. Reason is shared with stop_all.
	TurnID string `json:"turn_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Outbound is one server-to-client message. Every message except
// connection-level errors belongs to exactly one turn.
type Outbound struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id,omitempty"`

	// transcription
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// audio_chunk: Samples is little-endian int16 PCM (base64 over the
	// wire); ChunkNumber starts at 1. Text repeats the span the chunk was
	// synthesized from.
	Samples     []byte `json:"samples,omitempty"`
	ChunkNumber int    `json:"chunk_number,omitempty"`

	// turn_end
	TotalChunks int `json:"total_chunks,omitempty"`

	// turn_error
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	// turn_cancelled
	Reason string `json:"reason,omitempty"`
}

// DecodeInbound parses one inbound message. Unknown fields are tolerated;
// an unknown or missing type is reported as an error so the caller can drop
// the message.
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("session: decode message: %w", err)
	}
	switch msg.Type {
	case TypeAudioFrame, TypeTextPrompt, TypeStartTurn, TypeStopTurn, TypeStopAll:
		return msg, nil
	case "":
		return Inbound{}, fmt.Errorf("session: message missing type")
	default:
		return Inbound{}, fmt.Errorf("session: unknown message type %q", msg.Type)
	}
}
