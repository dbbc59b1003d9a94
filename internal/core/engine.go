package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eino_session_agent/internal/config"
	"eino_session_agent/internal/llm"
	"eino_session_agent/internal/metrics"
	"eino_session_agent/internal/storage"
	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"
)

// MaxQueryLength is the longest accepted query, in characters
const MaxQueryLength = 2000

// EngineConfig selects the workflow variant and its routes
type EngineConfig struct {
	Variant string
	Routing config.RoutingConfig
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records query and session metrics on recorder
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = recorder
	}
}

// WithClock overrides the time source used for state timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine executes queries against sessions.
// Queries on the same session run one at a time; different sessions run concurrently.
type Engine struct {
	registry storage.SessionRegistry
	store    storage.StateStore
	workflow *Workflow
	locks    *keyedMutex
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewEngine compiles the workflow and ties state lifetime to the registry
func NewEngine(ctx context.Context, cfg EngineConfig, registry storage.SessionRegistry, store storage.StateStore, completer llm.Completer, opts ...Option) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: completion capability is required", pkg.ErrConfiguration)
	}
	if err := cfg.Routing.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		registry: registry,
		store:    store,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	workflow, err := buildWorkflow(ctx, cfg.Variant, cfg.Routing, workflowDeps{
		completer: completer,
		metrics:   e.metrics,
		now:       e.now,
	})
	if err != nil {
		return nil, err
	}
	e.workflow = workflow

	registry.OnEvict(e.discardState)

	logger.Info().
		Str("variant", workflow.Variant()).
		Int("routes", len(cfg.Routing.Routes)).
		Msg("Conversation engine initialized")
	return e, nil
}

func (e *Engine) discardState(sessionID string) {
	if err := e.store.Discard(context.Background(), sessionID); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to discard conversation state")
	}
}

// CreateSession allocates a new session
func (e *Engine) CreateSession(_ context.Context) pkg.Session {
	session := e.registry.Create()
	e.metrics.SetActiveSessions(e.registry.Count())
	return session
}

// GetSession returns a live session and refreshes its activity
func (e *Engine) GetSession(ctx context.Context, sessionID string) (pkg.Session, error) {
	session, err := e.registry.Get(sessionID)
	if err != nil {
		return pkg.Session{}, err
	}
	e.touchState(ctx, sessionID)
	return session, nil
}

// touchState keeps the saved state alive as long as its session
func (e *Engine) touchState(ctx context.Context, sessionID string) {
	if err := e.store.Touch(ctx, sessionID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("Failed to refresh conversation state")
	}
}

// Execute runs query through the workflow for sessionID.
// On failure nothing is persisted and the message count is unchanged.
func (e *Engine) Execute(ctx context.Context, sessionID, query string) (*pkg.QueryResult, error) {
	start := time.Now()

	if err := validateQuery(query); err != nil {
		return nil, err
	}

	ctx = logger.WithSession(ctx, sessionID)
	log := logger.Ctx(ctx)

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	session, err := e.registry.Get(sessionID)
	if err != nil {
		e.metrics.ObserveQuery("", metrics.OutcomeNotFound, 0)
		return nil, err
	}

	state, err := e.store.Load(ctx, sessionID)
	if err != nil {
		e.metrics.ObserveQuery("", metrics.OutcomeError, 0)
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if state == nil {
		state = &pkg.ConversationState{}
	}
	state.SessionID = sessionID
	state.ClearScratch()
	state.CurrentQuery = query

	log.Info().
		Int("history", len(state.Conversation)).
		Str("query", truncate(query, 50)).
		Msg("Processing query")

	out, err := e.workflow.Invoke(ctx, state)
	if err != nil {
		log.Error().Err(err).Msg("Workflow execution failed")
		e.metrics.ObserveQuery("", metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("workflow execution failed: %w", err)
	}

	response, category := out.Response, out.Category
	out.ClearScratch()

	if err := e.store.Save(ctx, sessionID, out); err != nil {
		e.metrics.ObserveQuery(string(category), metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("failed to save conversation state: %w", err)
	}

	messageCount := session.MessageCount + 1
	updated, err := e.registry.RecordQuery(sessionID)
	switch {
	case err == nil:
		messageCount = updated.MessageCount
	case errors.Is(err, pkg.ErrSessionNotFound):
		log.Warn().Msg("Session ended during execution, discarding its state")
		e.discardState(sessionID)
	default:
		return nil, err
	}

	elapsed := time.Since(start)
	e.metrics.ObserveQuery(string(category), metrics.OutcomeSuccess, elapsed)
	log.Info().
		Str("category", string(category)).
		Int("message_count", messageCount).
		Dur("elapsed", elapsed).
		Msg("Query processed successfully")

	return &pkg.QueryResult{
		SessionID:      sessionID,
		Query:          query,
		Response:       response,
		Category:       category,
		MessageCount:   messageCount,
		Conversation:   out.Conversation,
		ProcessingTime: elapsed,
	}, nil
}

// History returns the recorded conversation of a live session
func (e *Engine) History(ctx context.Context, sessionID string) (*pkg.SessionHistory, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	session, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	e.touchState(ctx, sessionID)

	state, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	history := &pkg.SessionHistory{
		SessionID:    session.ID,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		MessageCount: session.MessageCount,
		Conversation: []pkg.ConversationTurn{},
	}
	if state != nil && state.Conversation != nil {
		history.Conversation = state.Conversation
	}
	return history, nil
}

// EndSession removes the session and its state; reports whether it existed
func (e *Engine) EndSession(_ context.Context, sessionID string) bool {
	ended := e.registry.End(sessionID)
	e.metrics.SetActiveSessions(e.registry.Count())
	return ended
}

// SweepExpired removes expired sessions and their states
func (e *Engine) SweepExpired(_ context.Context) int {
	n := e.registry.SweepExpired()
	e.metrics.AddExpiredSessions(n)
	e.metrics.SetActiveSessions(e.registry.Count())
	return n
}

// Stats summarizes the live sessions
func (e *Engine) Stats() pkg.SessionStats {
	return e.registry.Stats()
}

// Ready reports whether the engine can serve queries
func (e *Engine) Ready() bool {
	return e != nil && e.workflow != nil
}

// Variant names the compiled workflow
func (e *Engine) Variant() string {
	return e.workflow.Variant()
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query must not be empty", pkg.ErrInvalidQuery)
	}
	if n := len([]rune(query)); n > MaxQueryLength {
		return fmt.Errorf("%w: query is %d characters, limit is %d", pkg.ErrInvalidQuery, n, MaxQueryLength)
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
