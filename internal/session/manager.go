package session

import (
	"sync"

	"github.com/google/uuid"

	"cdpintercept/internal/logger"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
)

// Manager is the global session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	log      logger.Logger
}

// NewManager creates a session manager.
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// Create registers a new session with a generated ID.
func (m *Manager) Create(cfg domain.SessionConfig, store *storage.Store) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := domain.SessionID(uuid.NewString())
	s := New(id, cfg, store, m.log)
	m.sessions[id] = s
	m.log.Info("session created", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s
}

// Get looks up a session.
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete closes and removes a session.
func (m *Manager) Delete(id domain.SessionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("session destroyed", "sessionID", string(id))
	}
}

// List returns all active sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
