package storage

import (
	"context"
	"sync"

	"eino_session_agent/pkg"
)

// StateStore persists the workflow state of each session between executions
type StateStore interface {
	// Load returns the last saved state, or nil when none exists
	Load(ctx context.Context, sessionID string) (*pkg.ConversationState, error)
	Save(ctx context.Context, sessionID string, state *pkg.ConversationState) error
	// Touch extends the lifetime of a saved state; absent states are ignored
	Touch(ctx context.Context, sessionID string) error
	Discard(ctx context.Context, sessionID string) error
}

// MemoryStateStore keeps states in process memory
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*pkg.ConversationState
}

// NewMemoryStateStore creates an empty in-memory store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*pkg.ConversationState)}
}

// Load returns a copy of the saved state
func (m *MemoryStateStore) Load(_ context.Context, sessionID string) (*pkg.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[sessionID].Clone(), nil
}

// Save stores a copy of state
func (m *MemoryStateStore) Save(_ context.Context, sessionID string, state *pkg.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sessionID] = state.Clone()
	return nil
}

// Touch is a no-op, memory states live until discarded
func (m *MemoryStateStore) Touch(context.Context, string) error {
	return nil
}

// Discard deletes the saved state
func (m *MemoryStateStore) Discard(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// Len returns the number of stored states
func (m *MemoryStateStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
