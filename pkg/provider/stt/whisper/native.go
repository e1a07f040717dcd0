// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at startup and shared; each Transcribe call runs on its own whisper
// context, so concurrent calls do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code used when the caller
// passes none (e.g., "en", "de", "fr"). Defaults to "de".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe converts the segment's PCM to float32 and runs whisper.cpp
// inference on a fresh context.
func (p *NativeProvider) Transcribe(ctx context.Context, segment *audio.Segment, language string) (stt.Transcript, error) {
	if segment == nil || len(segment.Data) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty segment")
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context cancelled: %w", err)
	}
	lang := language
	if lang == "" {
		lang = p.language
	}
	sr := segment.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	samples := pcmToFloat32(segment.Data)

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:          strings.Join(parts, " "),
		Language:      lang,
		AudioDuration: audio.PCMDuration(len(segment.Data), sr, 1),
	}, nil
}
