// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled audio chunks to consumers and to verify
// which text spans and VoiceProfile reach the TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/stimme-dev/stimme/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text span passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted on the channel
	// returned by Synthesize.
	Chunks [][]byte

	// Err, if non-nil, is returned as the error from Synthesize instead of
	// starting a stream.
	Err error

	// SynthesizeFunc, if set, overrides the default behavior entirely. It
	// can be used to fail only specific spans.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error)

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and, if Err is nil, returns a channel that
// emits Chunks then closes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Voice: voice})
	fn := s.SynthesizeFunc
	err := s.Err
	chunks := make([][]byte, len(s.Chunks))
	copy(chunks, s.Chunks)
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (s *Synthesizer) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Voices, s.ListVoicesErr
}

// CallCount returns the number of recorded Synthesize calls.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// SpokenTexts returns the text spans of all recorded calls in order.
func (s *Synthesizer) SpokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		texts[i] = c.Text
	}
	return texts
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}
