package resilience

import (
	"context"

	"github.com/stimme-dev/stimme/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// Failover covers the initial Synthesize call only; once a backend has
// accepted a span and returned its audio channel, an early channel close is
// not retried elsewhere, since replaying a half-spoken span would duplicate
// audio at the client.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, synthesizer tts.Synthesizer) {
	f.group.AddFallback(name, synthesizer)
}

// Synthesize starts synthesis of one span against the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (<-chan []byte, error) {
		return s.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voice catalogue of the first healthy backend. Voice
// IDs are generally not portable between backends, so the catalogues are not
// merged.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]tts.VoiceProfile, error) {
		return s.ListVoices(ctx)
	})
}
