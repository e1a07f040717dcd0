package resilience

import (
	"context"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, transcriber stt.Transcriber) {
	f.group.AddFallback(name, transcriber)
}

// Transcribe runs the segment against the first healthy backend. If the
// primary fails, subsequent fallbacks are tried with the same segment.
func (f *STTFallback) Transcribe(ctx context.Context, segment *audio.Segment, language string) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, segment, language)
	})
}
