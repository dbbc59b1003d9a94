package cmd

import (
	"context"
	"fmt"

	"eino_session_agent/internal/config"
	"eino_session_agent/internal/core"
	"eino_session_agent/internal/llm"
	"eino_session_agent/internal/metrics"
	"eino_session_agent/internal/storage"
	"eino_session_agent/src/logger"
)

// app holds the wired components shared by the serve and chat commands
type app struct {
	engine  *core.Engine
	metrics *metrics.Recorder
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{metrics: metrics.New()}

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	registry := storage.NewMemorySessionRegistry(cfg.Session.Timeout())

	store, err := a.newStateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := core.NewEngine(ctx,
		core.EngineConfig{Variant: cfg.Workflow.Variant, Routing: cfg.Routing},
		registry,
		store,
		llm.NewChatCompleter(chatModel),
		core.WithMetrics(a.metrics),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create conversation engine: %w", err)
	}
	a.engine = engine

	logger.Info().Msg("Services initialized successfully")
	return a, nil
}

func (a *app) newStateStore(ctx context.Context, cfg *config.Config) (storage.StateStore, error) {
	if cfg.Store.Backend != config.StoreRedis {
		return storage.NewMemoryStateStore(), nil
	}

	store, err := storage.NewRedisStateStore(ctx, cfg.Redis.URL, cfg.Session.Timeout()+storage.StateTTLSlack)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	logger.Info().Msg("Connected to Redis state store")
	return store, nil
}

// Close releases external connections
func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}

// credentialConfigured reports whether the provider has what it needs to authenticate
func credentialConfigured(cfg *config.Config) bool {
	return cfg.LLM.APIKey != "" || cfg.LLM.Provider == config.ProviderOllama
}
