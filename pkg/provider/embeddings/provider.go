// Package embeddings abstracts the text-embedding backends used by the
// retrieval layer. A provider maps German or English conversation text to a
// dense float32 vector; the vectors land in the pgvector-backed store and are
// compared by distance to find context for the current prompt.
package embeddings

import "context"

// Provider is one embedding backend.
//
// Every vector a single Provider returns has the same length, reported by
// Dimensions; the retrieval store sizes its vector column from it at
// migration time, so the value must stay constant for the lifetime of the
// instance. Vectors from different providers or models live in different
// spaces and must never be compared against each other.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the vector for one text. The text is passed to the
	// backend verbatim; any model-specific prefixing is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this provider produces.
	Dimensions() int

	// ModelID returns the backend's model identifier, used for startup
	// logging and to spot a model switch that would invalidate stored
	// vectors.
	ModelID() string
}
