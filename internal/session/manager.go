// Package session tracks live sessions and signs the descriptors embedded in
// served documents.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrLimitExceeded is returned when the session cap is reached.
var ErrLimitExceeded = errors.New("session limit exceeded")

// Session is one live session created by an HTTP mount.
type Session struct {
	ID         string
	View       string
	Path       string
	CreatedAt  time.Time
	LastAccess time.Time
}

// Manager handles session lifecycle. Sessions expire after the TTL elapses
// without access.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
	max      int
}

// NewManager creates a session manager. A zero ttl defaults to 24 hours; a
// zero max means unbounded.
func NewManager(ttl time.Duration, max int) *Manager {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		max:      max,
	}
}

// Create registers a new session for a view mount.
func (m *Manager) Create(view, path string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, ErrLimitExceeded
	}

	now := time.Now()
	sess := &Session{
		ID:         ulid.Make().String(),
		View:       view,
		Path:       path,
		CreatedAt:  now,
		LastAccess: now,
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

// Get retrieves a session by ID, refreshing its last-access time. Expired
// sessions are evicted on access.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	if time.Since(sess.LastAccess) > m.ttl {
		delete(m.sessions, sessionID)
		return nil, false
	}
	sess.LastAccess = time.Now()
	return sess, true
}

// Delete removes a session.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired removes expired sessions and returns the evicted IDs, so
// callers can release whatever they keyed on them.
func (m *Manager) CleanupExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	cutoff := time.Now().Add(-m.ttl)
	for id, sess := range m.sessions {
		if sess.LastAccess.Before(cutoff) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
