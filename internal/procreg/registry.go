package procreg

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is the registry's record of one in-flight turn.
type Turn struct {
	ID        string
	Name      string
	StartedAt time.Time
	Metadata  map[string]string

	token *Token
}

// Token returns the turn's cancellation handle.
func (t *Turn) Token() *Token { return t.token }

// Registry maps turn ids to cancellation handles. All methods are safe for
// concurrent use across sessions.
type Registry struct {
	mu     sync.Mutex
	turns  map[string]*Turn
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		turns:  make(map[string]*Turn),
		logger: logger.With("component", "procreg"),
	}
}

// Start registers a new turn and returns its id and a fresh Token. The
// metadata map is copied; callers may reuse theirs.
func (r *Registry) Start(name string, metadata map[string]string) (string, *Token) {
	id := uuid.NewString()
	turn := &Turn{
		ID:        id,
		Name:      name,
		StartedAt: time.Now(),
		Metadata:  make(map[string]string, len(metadata)),
		token:     NewToken(),
	}
	for k, v := range metadata {
		turn.Metadata[k] = v
	}

	r.mu.Lock()
	r.turns[id] = turn
	r.mu.Unlock()

	r.logger.Debug("turn registered", "id", id, "name", name)
	return id, turn.token
}

// Stop cancels the turn with the given id. It returns false when the id is
// unknown, which is the normal outcome for a turn that already completed
// and was cleaned up, not a fault.
func (r *Registry) Stop(id, reason string) bool {
	r.mu.Lock()
	turn, ok := r.turns[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	turn.token.Cancel(reason)
	r.logger.Info("turn stopped", "id", id, "name", turn.Name, "reason", reason)
	return true
}

// StopAll cancels every registered turn and returns the number of turns this
// call actually cancelled. Turns that complete (or are cancelled elsewhere)
// concurrently are not double-counted.
func (r *Registry) StopAll(reason string) int {
	r.mu.Lock()
	turns := make([]*Turn, 0, len(r.turns))
	for _, t := range r.turns {
		turns = append(turns, t)
	}
	r.mu.Unlock()

	count := 0
	for _, t := range turns {
		if t.token.Cancel(reason) {
			count++
		}
	}
	if count > 0 {
		r.logger.Info("all turns stopped", "count", count, "reason", reason)
	}
	return count
}

// Cleanup removes a finished turn from the registry. Every turn must be
// cleaned up exactly once, on every completion path, or the registry leaks.
// Cleaning up an unknown id is a no-op.
func (r *Registry) Cleanup(id string) {
	r.mu.Lock()
	_, ok := r.turns[id]
	delete(r.turns, id)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("turn cleaned up", "id", id)
	}
}

// Count returns the number of currently registered turns.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// Get returns the turn record for id.
func (r *Registry) Get(id string) (*Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.turns[id]
	return turn, ok
}
