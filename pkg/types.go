package pkg

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Category is the routing category assigned to a query by the classifier
type Category string

const (
	CategoryGeography Category = "geography"
	CategoryOther     Category = "other" // fallback, served by the default responder
)

// ConversationTurn represents a single message in conversation history
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate reports ErrInvalidHistoryEntry for turns that cannot be replayed
func (t ConversationTurn) Validate() error {
	switch {
	case t.Role == "":
		return fmt.Errorf("%w: missing role", ErrInvalidHistoryEntry)
	case t.Content == "":
		return fmt.Errorf("%w: missing content", ErrInvalidHistoryEntry)
	case t.Role != RoleUser && t.Role != RoleAssistant:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidHistoryEntry, t.Role)
	}
	return nil
}

// ConversationState is the workflow payload persisted per session.
// CurrentQuery, Response and Category are scratch fields, valid during one execution only.
type ConversationState struct {
	SessionID    string             `json:"session_id"`
	Conversation []ConversationTurn `json:"conversation_history"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`

	CurrentQuery string   `json:"current_query,omitempty"`
	Response     string   `json:"response,omitempty"`
	Category     Category `json:"question_type,omitempty"`
}

// Initialized reports whether the session start stage has run for this state before
func (s *ConversationState) Initialized() bool {
	return s != nil && !s.CreatedAt.IsZero()
}

// Clone returns a deep copy of the state
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Conversation != nil {
		out.Conversation = make([]ConversationTurn, len(s.Conversation))
		copy(out.Conversation, s.Conversation)
	}
	return &out
}

// ClearScratch resets the per-execution fields
func (s *ConversationState) ClearScratch() {
	s.CurrentQuery = ""
	s.Response = ""
	s.Category = ""
}

// Session holds the metadata tracked by the session registry.
// Conversation content lives in the state store, never here.
type Session struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// SessionStats is an aggregate snapshot of the live sessions
type SessionStats struct {
	TotalSessions           int     `json:"total_sessions"`
	AverageMessages         float64 `json:"average_messages"`
	OldestSessionAgeSeconds float64 `json:"oldest_session_age"`
	NewestSessionAgeSeconds float64 `json:"newest_session_age"`
}

// QueryResult is returned by the engine for every successfully executed query
type QueryResult struct {
	SessionID      string             `json:"session_id"`
	Query          string             `json:"query"`
	Response       string             `json:"response"`
	Category       Category           `json:"category,omitempty"`
	MessageCount   int                `json:"message_count"`
	Conversation   []ConversationTurn `json:"conversation_history"`
	ProcessingTime time.Duration      `json:"processing_time"`
}

// SessionHistory is the full conversation record of a session plus its metadata
type SessionHistory struct {
	SessionID    string             `json:"session_id"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	MessageCount int                `json:"message_count"`
	Conversation []ConversationTurn `json:"conversation_history"`
}
