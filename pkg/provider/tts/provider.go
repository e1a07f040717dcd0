// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A Synthesizer wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui instance) and presents a uniform streaming interface. The primary
// entry point is Synthesize, which accepts one text span and returns a channel
// of raw PCM audio bytes as they become available. Spans arrive from the
// sentence chunker upstream, so synthesis of one span can start while the
// language model is still producing the next one.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts one text span into speech and returns a channel
	// that emits raw PCM audio byte slices as they are synthesised. text must
	// be non-empty.
	//
	// The returned audio channel is closed by the implementation when the
	// span has been fully synthesised or when ctx is cancelled. The caller
	// must drain the channel to avoid blocking the provider's internal
	// goroutines.
	//
	// voice specifies the voice profile to use. Implementations should return
	// an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this backend. The
	// list reflects the backend's current catalogue and may change between
	// calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
