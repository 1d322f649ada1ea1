package session

import (
	"log/slog"
	"sync"
	"time"
)

// Manager owns the live sessions, keyed by user and tab session ID.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Session
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*Session),
	}
}

// Get returns the session for a user and tab, if one exists.
func (m *Manager) Get(userID, sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		s, ok := sessions[sessionID]
		return s, ok
	}
	return nil, false
}

// GetOrCreate returns the existing session or registers a new empty one.
func (m *Manager) GetOrCreate(userID, sessionID string) *Session {
	if s, ok := m.Get(userID, sessionID); ok {
		s.Touch()
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Session)
	}
	if s, exists := m.active[userID][sessionID]; exists {
		return s
	}

	s := New(userID, sessionID)
	m.active[userID][sessionID] = s
	slog.Info("Chat session created", "user_id", userID, "session_id", sessionID)
	return s
}

// Close terminates one session. Its transcript and credential are dropped.
func (m *Manager) Close(userID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return false
	}
	if _, exists := sessions[sessionID]; !exists {
		return false
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Chat session closed", "user_id", userID, "session_id", sessionID)
	return true
}

// Sweep closes sessions idle for longer than ttl. Sessions with an exchange in
// flight are kept regardless of age.
func (m *Manager) Sweep(now time.Time, ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, sessions := range m.active {
		for sid, s := range sessions {
			if s.State() == StateAwaitingResponse {
				continue
			}
			if now.Sub(s.LastActivity()) > ttl {
				delete(sessions, sid)
				removed++
				slog.Debug("Chat session expired", "user_id", userID, "session_id", sid)
			}
		}
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
