package garmin

import (
	"context"
	"sync"
	"time"
)

// Session is an authenticated handle to the Connect API. It is a value
// owned by the Manager; fetchers hold a reference only long enough to
// issue requests and must go back to the Manager once it expires.
type Session struct {
	Token     string
	ExpiresAt time.Time

	// generation orders sessions so concurrent fetchers can tell a
	// stale handle from the current one.
	generation uint64
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authenticator establishes sessions. Implemented by *Client.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
}

// Manager owns the active session and serializes re-authentication:
// when several fetchers hit session expiry at once, exactly one login
// is issued and the rest wait for its result.
type Manager struct {
	auth Authenticator

	mu      sync.Mutex
	current *Session
	gen     uint64
}

// NewManager returns a Manager with no session established yet.
func NewManager(auth Authenticator) *Manager {
	return &Manager{auth: auth}
}

// Session returns the current session, establishing one on first use.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Expired(time.Now()) {
		return m.current, nil
	}
	return m.loginLocked(ctx)
}

// Refresh replaces a session the caller found to be expired. If another
// fetcher already re-authenticated since stale was handed out, the
// existing replacement is returned without a new login.
func (m *Manager) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && (stale == nil || m.current.generation > stale.generation) {
		return m.current, nil
	}
	return m.loginLocked(ctx)
}

func (m *Manager) loginLocked(ctx context.Context) (*Session, error) {
	sess, err := m.auth.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	m.gen++
	sess.generation = m.gen
	m.current = sess
	return sess, nil
}
