package session

import (
	"log/slog"
	"sync"

	"github.com/stimme-dev/stimme/internal/procreg"
)

// Manager tracks the live sessions of one server instance. It exists so that
// shutdown and stop_all have a single place to reach every session.
type Manager struct {
	registry *procreg.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager backed by the shared process registry.
func NewManager(registry *procreg.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		logger:   logger.With("component", "session_manager"),
		sessions: make(map[string]*Session),
	}
}

// Add registers a session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	m.logger.Info("session registered", "session_id", s.ID(), "sessions", len(m.sessions))
}

// Remove deregisters a session, typically after its connection closed.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.logger.Info("session removed", "session_id", id, "sessions", len(m.sessions))
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll cancels every registered turn across all sessions.
func (m *Manager) StopAll(reason string) int {
	stopped := m.registry.StopAll(reason)
	m.logger.Info("stopped all turns", "reason", reason, "stopped", stopped)
	return stopped
}

// CloseAll cancels all turns and closes every session. Used on shutdown.
func (m *Manager) CloseAll(reason string) {
	m.registry.StopAll(reason)

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
