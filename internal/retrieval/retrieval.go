// Package retrieval stores past conversation turns and reference documents as
// embedded vectors and finds the entries most relevant to a new prompt. The
// search results are folded into the language model request so the assistant
// can refer back to things said earlier or to preloaded background material.
package retrieval

import (
	"context"
	"time"
)

// Document is one retrievable unit of text, either a past exchange or a piece
// of preloaded reference material.
type Document struct {
	// ID is the unique document identifier. Empty means the store assigns one.
	ID string

	// SessionID scopes the document to one conversation session. Empty means
	// the document is shared across sessions.
	SessionID string

	// Content is the document text.
	Content string

	// Embedding is the vector for Content. When nil, the store computes it
	// on insert.
	Embedding []float32

	// CreatedAt is when the document was stored.
	CreatedAt time.Time
}

// Result is one search hit.
type Result struct {
	Document Document

	// Distance is the cosine distance between the query and the document
	// embedding. Smaller is more similar.
	Distance float64
}

// Retriever is the abstraction over any document retrieval backend.
type Retriever interface {
	// Add stores doc, computing its embedding if one is not supplied.
	Add(ctx context.Context, doc Document) error

	// Search returns up to topK documents closest to query, most similar
	// first. A non-empty sessionID restricts results to that session plus
	// shared documents.
	Search(ctx context.Context, query string, topK int, sessionID string) ([]Result, error)
}
