// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return canned vectors without a live model and to verify
// which texts the retrieval layer submits for embedding.
package mock

import (
	"context"
	"sync"

	"github.com/stimme-dev/stimme/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the string passed to Embed.
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed. If nil, a zero-length slice is
	// returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedFunc, if set, overrides the default Embed behavior entirely. Use
	// it to vary the vector per text.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns EmbedResult, EmbedErr unless EmbedFunc
// is set.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn := p.EmbedFunc
	result := p.EmbedResult
	err := p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return result, err
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// CallCount returns the number of recorded Embed calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// EmbeddedTexts returns the texts of all recorded Embed calls in order.
func (p *Provider) EmbeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(p.EmbedCalls))
	for i, c := range p.EmbedCalls {
		texts[i] = c.Text
	}
	return texts
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}
