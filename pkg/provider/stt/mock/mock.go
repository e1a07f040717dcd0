// Package mock provides a test double for the stt.Transcriber interface.
package mock

import (
	"context"
	"sync"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Segment is the segment passed to Transcribe.
	Segment *audio.Segment
	// Language is the language hint passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// TranscribeFunc, if set, computes the result per call and overrides
	// Result/Err.
	TranscribeFunc func(ctx context.Context, segment *audio.Segment, language string) (stt.Transcript, error)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured result.
func (t *Transcriber) Transcribe(ctx context.Context, segment *audio.Segment, language string) (stt.Transcript, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Segment: segment, Language: language})
	fn := t.TranscribeFunc
	result, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, segment, language)
	}
	return result, err
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}
