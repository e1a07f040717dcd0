package resilience

import (
	"context"

	"github.com/stimme-dev/stimme/pkg/provider/llm"
)

// LLMFallback implements [llm.Generator] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Generator]
}

// Compile-time interface assertion.
var _ llm.Generator = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Generator, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generator as a fallback.
func (f *LLMFallback) AddFallback(name string, generator llm.Generator) {
	f.group.AddFallback(name, generator)
}

// GenerateStream sends the request to the first healthy generator and returns
// its streaming chunk channel. Only the initial connection attempt is covered
// by failover; once a stream is established, mid-stream errors surface to the
// consumer as error chunks and are not retried against a fallback.
func (f *LLMFallback) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(g llm.Generator) (<-chan llm.Chunk, error) {
		return g.GenerateStream(ctx, req)
	})
}
