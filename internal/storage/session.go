package storage

import (
	"fmt"
	"sync"
	"time"

	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is used when a registry is created with a non-positive timeout
const DefaultSessionTimeout = 30 * time.Minute

// SessionRegistry tracks session metadata and expiry
type SessionRegistry interface {
	Create() pkg.Session
	Get(id string) (pkg.Session, error)
	RecordQuery(id string) (pkg.Session, error)
	End(id string) bool
	SweepExpired() int
	Stats() pkg.SessionStats
	Count() int
	OnEvict(hook func(id string))
}

// MemorySessionRegistry is an in-memory SessionRegistry safe for concurrent use
type MemorySessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*pkg.Session
	timeout  time.Duration
	now      func() time.Time
	hooks    []func(id string)
}

// RegistryOption configures a MemorySessionRegistry
type RegistryOption func(*MemorySessionRegistry)

// WithClock overrides the registry time source
func WithClock(now func() time.Time) RegistryOption {
	return func(r *MemorySessionRegistry) {
		r.now = now
	}
}

// NewMemorySessionRegistry creates a new in-memory session registry
func NewMemorySessionRegistry(timeout time.Duration, opts ...RegistryOption) *MemorySessionRegistry {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	r := &MemorySessionRegistry{
		sessions: make(map[string]*pkg.Session),
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	logger.Info().Dur("timeout", timeout).Msg("Session registry initialized")
	return r
}

// OnEvict registers a hook called after a session is removed for any reason.
// Hooks run outside the registry lock.
func (r *MemorySessionRegistry) OnEvict(hook func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Create allocates a new session
func (r *MemorySessionRegistry) Create() pkg.Session {
	now := r.now()
	session := &pkg.Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	logger.Info().Str("session_id", session.ID).Msg("Created new session")
	return *session
}

// Get returns a live session and refreshes its last activity.
// An expired session is removed and reported as not found.
func (r *MemorySessionRegistry) Get(id string) (pkg.Session, error) {
	return r.touch(id, false)
}

// RecordQuery counts one completed query against the session
func (r *MemorySessionRegistry) RecordQuery(id string) (pkg.Session, error) {
	return r.touch(id, true)
}

func (r *MemorySessionRegistry) touch(id string, countQuery bool) (pkg.Session, error) {
	now := r.now()

	r.mu.Lock()
	session, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		logger.Debug().Str("session_id", id).Msg("Session not found")
		return pkg.Session{}, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, id)
	}

	if r.expired(session, now) {
		delete(r.sessions, id)
		hooks := r.hooks
		r.mu.Unlock()

		logger.Info().Str("session_id", id).Msg("Session expired")
		r.notify(hooks, id)
		return pkg.Session{}, fmt.Errorf("%w: %s", pkg.ErrSessionNotFound, id)
	}

	if now.After(session.LastActivity) {
		session.LastActivity = now
	}
	if countQuery {
		session.MessageCount++
	}
	out := *session
	r.mu.Unlock()

	return out, nil
}

// End removes a session; reports whether it existed
func (r *MemorySessionRegistry) End(id string) bool {
	r.mu.Lock()
	_, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		logger.Warn().Str("session_id", id).Msg("Attempted to end non-existent session")
		return false
	}
	delete(r.sessions, id)
	hooks := r.hooks
	r.mu.Unlock()

	logger.Info().Str("session_id", id).Msg("Ended session")
	r.notify(hooks, id)
	return true
}

// SweepExpired removes every expired session and returns how many were removed
func (r *MemorySessionRegistry) SweepExpired() int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, session := range r.sessions {
		if r.expired(session, now) {
			expired = append(expired, id)
			delete(r.sessions, id)
		}
	}
	hooks := r.hooks
	r.mu.Unlock()

	for _, id := range expired {
		r.notify(hooks, id)
	}

	if len(expired) > 0 {
		logger.Info().Int("count", len(expired)).Msg("Cleaned up expired sessions")
	}
	return len(expired)
}

// Stats returns aggregate statistics over live sessions.
// Sessions past their timeout but not yet swept are excluded.
func (r *MemorySessionRegistry) Stats() pkg.SessionStats {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		stats    pkg.SessionStats
		messages int
	)
	for _, session := range r.sessions {
		if r.expired(session, now) {
			continue
		}
		age := now.Sub(session.CreatedAt).Seconds()
		if stats.TotalSessions == 0 || age > stats.OldestSessionAgeSeconds {
			stats.OldestSessionAgeSeconds = age
		}
		if stats.TotalSessions == 0 || age < stats.NewestSessionAgeSeconds {
			stats.NewestSessionAgeSeconds = age
		}
		messages += session.MessageCount
		stats.TotalSessions++
	}

	if stats.TotalSessions > 0 {
		stats.AverageMessages = float64(messages) / float64(stats.TotalSessions)
	}
	return stats
}

// Count returns the number of live sessions
func (r *MemorySessionRegistry) Count() int {
	return r.Stats().TotalSessions
}

func (r *MemorySessionRegistry) expired(session *pkg.Session, now time.Time) bool {
	return now.Sub(session.LastActivity) > r.timeout
}

func (r *MemorySessionRegistry) notify(hooks []func(string), id string) {
	for _, hook := range hooks {
		hook(id)
	}
}
