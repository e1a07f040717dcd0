// Package mock provides a test double for the retrieval.Retriever interface.
package mock

import (
	"context"
	"sync"

	"github.com/stimme-dev/stimme/internal/retrieval"
)

// Retriever is a mock implementation of retrieval.Retriever.
type Retriever struct {
	mu sync.Mutex

	// SearchResults is returned by Search.
	SearchResults []retrieval.Result

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// AddErr, if non-nil, is returned as the error from Add.
	AddErr error

	// Added records every document passed to Add in order.
	Added []retrieval.Document

	// Queries records every query string passed to Search in order.
	Queries []string
}

var _ retrieval.Retriever = (*Retriever)(nil)

// Add records the document and returns AddErr.
func (r *Retriever) Add(_ context.Context, doc retrieval.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Added = append(r.Added, doc)
	return r.AddErr
}

// Search records the query and returns SearchResults, SearchErr.
func (r *Retriever) Search(_ context.Context, query string, _ int, _ string) ([]retrieval.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, query)
	if r.SearchErr != nil {
		return nil, r.SearchErr
	}
	return r.SearchResults, nil
}
