// Package server exposes the conversation engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"eino_session_agent/internal/config"
	"eino_session_agent/internal/core"
	"eino_session_agent/internal/metrics"
	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"

	"github.com/labstack/echo/v4"
)

// Service is the engine surface the handlers depend on
type Service interface {
	CreateSession(ctx context.Context) pkg.Session
	GetSession(ctx context.Context, sessionID string) (pkg.Session, error)
	Execute(ctx context.Context, sessionID, query string) (*pkg.QueryResult, error)
	History(ctx context.Context, sessionID string) (*pkg.SessionHistory, error)
	EndSession(ctx context.Context, sessionID string) bool
	SweepExpired(ctx context.Context) int
	Stats() pkg.SessionStats
	Ready() bool
}

// Handler handles HTTP requests
type Handler struct {
	svc        Service
	app        config.AppConfig
	credential bool
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewHandler creates a handler. credentialConfigured feeds the health status.
func NewHandler(svc Service, app config.AppConfig, credentialConfigured bool, recorder *metrics.Recorder) *Handler {
	return &Handler{
		svc:        svc,
		app:        app,
		credential: credentialConfigured,
		metrics:    recorder,
		now:        time.Now,
	}
}

// RegisterRoutes registers routes with the echo server
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	v1 := e.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/stats", h.Stats)

	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions/:session_id", h.GetSession)
	v1.DELETE("/sessions/:session_id", h.EndSession)

	v1.POST("/chat/:session_id/query", h.Query)
	v1.GET("/chat/:session_id/history", h.History)
}

// Root returns API information
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":        h.app.Name,
		"version":     h.app.Version,
		"description": h.app.Description,
		"health_url":  "/api/v1/health",
		"metrics_url": "/metrics",
	})
}

// Health reports service status and sweeps expired sessions
// GET /api/v1/health
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()

	if !h.svc.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:    "unhealthy",
			Timestamp: unixSeconds(h.now()),
		})
	}

	active := h.svc.Stats().TotalSessions
	if cleaned := h.svc.SweepExpired(ctx); cleaned > 0 {
		logger.Ctx(ctx).Info().Int("count", cleaned).Msg("Health check cleaned up expired sessions")
	}

	status := "healthy"
	if !h.credential {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:         status,
		Timestamp:      unixSeconds(h.now()),
		ActiveSessions: active,
	})
}

// Stats returns session statistics
// GET /api/v1/stats
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Timestamp: unixSeconds(h.now()),
		Sessions:  h.svc.Stats(),
		Environment: map[string]bool{
			"llm_api_key_configured": h.credential,
		},
	})
}

// CreateSession starts a new conversation session
// POST /api/v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	session := h.svc.CreateSession(c.Request().Context())
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

// GetSession returns session metadata
// GET /api/v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.svc.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newSessionResponse(session))
}

// EndSession ends a session and discards its conversation
// DELETE /api/v1/sessions/:session_id
func (h *Handler) EndSession(c echo.Context) error {
	sessionID := c.Param("session_id")

	if !h.svc.EndSession(c.Request().Context(), sessionID) {
		return c.JSON(http.StatusOK, SessionEndResponse{
			SessionID: sessionID,
			Success:   false,
			Message:   fmt.Sprintf("Session %s not found or already expired", sessionID),
		})
	}

	return c.JSON(http.StatusOK, SessionEndResponse{
		SessionID: sessionID,
		Success:   true,
		Message:   "Session ended successfully",
	})
}

// Query sends a query to a session
// POST /api/v1/chat/:session_id/query
func (h *Handler) Query(c echo.Context) error {
	sessionID := c.Param("session_id")

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid request body", pkg.ErrInvalidQuery))
	}
	if n := utf8.RuneCountInString(req.Query); n < 1 || n > core.MaxQueryLength {
		return h.fail(c, fmt.Errorf("%w: query must be between 1 and %d characters", pkg.ErrInvalidQuery, core.MaxQueryLength))
	}

	result, err := h.svc.Execute(c.Request().Context(), sessionID, req.Query)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, QueryResponse{
		SessionID:      result.SessionID,
		Query:          result.Query,
		Response:       result.Response,
		MessageCount:   result.MessageCount,
		ProcessingTime: result.ProcessingTime.Seconds(),
		Timestamp:      unixSeconds(h.now()),
	})
}

// History returns the full conversation of a session
// GET /api/v1/chat/:session_id/history
func (h *Handler) History(c echo.Context) error {
	history, err := h.svc.History(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}

	turns := make([]ConversationMessage, len(history.Conversation))
	for i, turn := range history.Conversation {
		turns[i] = ConversationMessage{
			Role:      string(turn.Role),
			Content:   turn.Content,
			Timestamp: unixSeconds(turn.Timestamp),
		}
	}

	return c.JSON(http.StatusOK, SessionHistoryResponse{
		SessionID:           history.SessionID,
		CreatedAt:           unixSeconds(history.CreatedAt),
		LastActivity:        unixSeconds(history.LastActivity),
		MessageCount:        history.MessageCount,
		ConversationHistory: turns,
	})
}

// fail maps an engine error to its HTTP response
func (h *Handler) fail(c echo.Context, err error) error {
	log := logger.Ctx(c.Request().Context())

	switch {
	case errors.Is(err, pkg.ErrSessionNotFound):
		log.Warn().Err(err).Msg("Session not found")
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "Session Not Found",
			Detail:    fmt.Sprintf("Session %s not found or expired", c.Param("session_id")),
			Timestamp: unixSeconds(h.now()),
		})
	case errors.Is(err, pkg.ErrInvalidQuery):
		log.Warn().Err(err).Msg("Validation error")
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "Validation Error",
			Detail:    err.Error(),
			Timestamp: unixSeconds(h.now()),
		})
	}

	log.Error().Err(err).Msg("Request failed")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     "Internal Server Error",
		Detail:    "Failed to process request",
		Timestamp: unixSeconds(h.now()),
	})
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
