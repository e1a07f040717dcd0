// Package llm defines the Generator interface for text-generation backends.
//
// A Generator wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a uniform streaming interface: one
// request in, a finite channel of text fragments out. Implementations must
// be safe for concurrent use and must close their channel when the stream
// ends or the supplied context is cancelled.
package llm

import "context"

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the model needs to produce a response. At
// minimum Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int
}

// Finish reasons set on the final Chunk of a stream.
const (
	// FinishReasonStop marks a natural end of generation.
	FinishReasonStop = "stop"

	// FinishReasonLength marks a stream cut off by the MaxTokens cap.
	FinishReasonLength = "length"

	// FinishReasonError marks a stream that ended because the backend
	// failed mid-generation; Err carries the failure.
	FinishReasonError = "error"
)

// Chunk is a single fragment emitted by a streaming generation. Fragments
// must be concatenated in arrival order to reconstruct the full generated
// text; the chunker downstream relies on no fragment being dropped,
// duplicated, or reordered.
type Chunk struct {
	// Text is the incremental text content. May be empty on the final
	// chunk that only carries a FinishReason.
	Text string

	// FinishReason is set on the final chunk ("" on all others).
	FinishReason string

	// Err is the backend failure when FinishReason is FinishReasonError.
	Err error
}

// Generator is the abstraction over any text-generation backend.
type Generator interface {
	// GenerateStream sends req to the model and returns a read-only channel
	// emitting Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled; callers
	// must drain it to avoid goroutine leaks.
	//
	// A mid-stream backend failure ends the sequence with a Chunk whose
	// FinishReason is FinishReasonError. The initial error return is
	// non-nil only for failures that prevent the stream from starting.
	// The returned channel is never nil when error is nil.
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
