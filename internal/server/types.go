package server

import "eino_session_agent/pkg"

// Timestamps on the wire are unix seconds with fractional part.

type QueryRequest struct {
	Query string `json:"query"`
}

type SessionResponse struct {
	SessionID    string  `json:"session_id"`
	CreatedAt    float64 `json:"created_at"`
	MessageCount int     `json:"message_count"`
}

func newSessionResponse(s pkg.Session) SessionResponse {
	return SessionResponse{
		SessionID:    s.ID,
		CreatedAt:    unixSeconds(s.CreatedAt),
		MessageCount: s.MessageCount,
	}
}

type ConversationMessage struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

type QueryResponse struct {
	SessionID      string  `json:"session_id"`
	Query          string  `json:"query"`
	Response       string  `json:"response"`
	MessageCount   int     `json:"message_count"`
	ProcessingTime float64 `json:"processing_time"`
	Timestamp      float64 `json:"timestamp"`
}

type SessionHistoryResponse struct {
	SessionID           string                `json:"session_id"`
	CreatedAt           float64               `json:"created_at"`
	LastActivity        float64               `json:"last_activity"`
	MessageCount        int                   `json:"message_count"`
	ConversationHistory []ConversationMessage `json:"conversation_history"`
}

type SessionEndResponse struct {
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

type HealthResponse struct {
	Status         string  `json:"status"`
	Timestamp      float64 `json:"timestamp"`
	ActiveSessions int     `json:"active_sessions"`
}

type StatsResponse struct {
	Timestamp   float64          `json:"timestamp"`
	Sessions    pkg.SessionStats `json:"sessions"`
	Environment map[string]bool  `json:"environment"`
}

type ErrorResponse struct {
	Error     string  `json:"error"`
	Detail    string  `json:"detail,omitempty"`
	Timestamp float64 `json:"timestamp"`
}
