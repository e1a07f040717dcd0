// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// Segmentation happens upstream: the voice activity detector hands over one
// complete speech segment at a time, so a backend only needs to answer a
// single batch question — what was said in this audio. Implementations wrap
// whisper-server, the whisper.cpp bindings, or any remote STT API.
//
// Implementations must be safe for concurrent use; several sessions may
// transcribe at once.
package stt

import (
	"context"
	"time"

	"github.com/stimme-dev/stimme/pkg/audio"
)

// Transcript is the result of transcribing one speech segment.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64

	// Language is the language the backend detected or was told to use,
	// as a BCP-47 code (e.g. "de", "en-US"). May be empty.
	Language string

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts one speech segment to text. language is a BCP-47
	// hint; an empty string lets the backend auto-detect where supported.
	// A transport or backend failure is returned as an error and is
	// terminal for the calling turn.
	Transcribe(ctx context.Context, segment *audio.Segment, language string) (Transcript, error)
}
