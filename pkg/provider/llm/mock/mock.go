// Package mock provides a mock llm.Generator for testing.
package mock

import (
	"context"
	"sync"

	"github.com/stimme-dev/stimme/pkg/provider/llm"
)

// Generator is a mock implementation of llm.Generator. It records every
// request and replays a configured chunk sequence.
type Generator struct {
	mu sync.Mutex

	// Chunks is the sequence emitted by GenerateStream. If no chunk carries
	// a FinishReason, a final stop chunk is appended automatically.
	Chunks []llm.Chunk

	// Err, if set, is returned by GenerateStream before any chunk is sent.
	Err error

	// GenerateFunc, if set, overrides the default behavior entirely.
	GenerateFunc func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)

	// Calls records every request passed to GenerateStream.
	Calls []llm.Request
}

var _ llm.Generator = (*Generator)(nil)

// GenerateStream implements llm.Generator.
func (g *Generator) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, req)
	fn := g.GenerateFunc
	err := g.Err
	chunks := make([]llm.Chunk, len(g.Chunks))
	copy(chunks, g.Chunks)
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	terminated := false
	for _, c := range chunks {
		if c.FinishReason != "" {
			terminated = true
		}
	}
	if !terminated {
		chunks = append(chunks, llm.Chunk{FinishReason: llm.FinishReasonStop})
	}

	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// CallCount returns the number of recorded GenerateStream calls.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// ScriptText configures Chunks to stream the given fragments in order,
// terminated by a stop chunk.
func (g *Generator) ScriptText(fragments ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Chunks = g.Chunks[:0]
	for _, f := range fragments {
		g.Chunks = append(g.Chunks, llm.Chunk{Text: f})
	}
	g.Chunks = append(g.Chunks, llm.Chunk{FinishReason: llm.FinishReasonStop})
}
