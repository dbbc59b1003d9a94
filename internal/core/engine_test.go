package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"eino_session_agent/internal/config"
	"eino_session_agent/internal/llm/llmtest"
	"eino_session_agent/internal/storage"
	"eino_session_agent/pkg"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine    *Engine
	registry  *storage.MemorySessionRegistry
	store     *storage.MemoryStateStore
	completer *llmtest.Completer
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T, cfg EngineConfig, completer *llmtest.Completer) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	registry := storage.NewMemorySessionRegistry(30*time.Minute, storage.WithClock(clock.Now))
	store := storage.NewMemoryStateStore()

	engine, err := NewEngine(context.Background(), cfg, registry, store, completer, WithClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{engine: engine, registry: registry, store: store, completer: completer, clock: clock}
}

func classifyingConfig() EngineConfig {
	return EngineConfig{Variant: config.VariantClassifying, Routing: config.DefaultRouting()}
}

func isClassification(messages []*schema.Message) bool {
	return len(messages) == 1 && strings.Contains(messages[0].Content, "question classifier")
}

// geographyModel answers classification calls with "geography" and echoes a capital otherwise
func geographyModel() *llmtest.Completer {
	return &llmtest.Completer{Reply: func(_ context.Context, messages []*schema.Message) (string, error) {
		if isClassification(messages) {
			return "geography", nil
		}
		last := messages[len(messages)-1].Content
		switch {
		case strings.Contains(last, "Germany"):
			return "Berlin.", nil
		case strings.Contains(last, "France"):
			return "Paris.", nil
		}
		return "I don't know.", nil
	}}
}

func TestExecuteEndToEndGeography(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	result, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", result.Response)
	assert.Equal(t, pkg.CategoryGeography, result.Category)
	assert.Equal(t, 1, result.MessageCount)
	require.Len(t, result.Conversation, 2)
	assert.Equal(t, pkg.RoleAssistant, result.Conversation[1].Role)
	assert.Equal(t, "Paris.", result.Conversation[1].Content)
	assert.Equal(t, 1, env.completer.Calls(), "keyword match skips the classification call")

	first := env.completer.Last()
	require.Len(t, first, 1)
	assert.Contains(t, first[0].Content, "geography expert")

	result, err = env.engine.Execute(ctx, session.ID, "And Germany?")
	require.NoError(t, err)
	assert.Equal(t, "Berlin.", result.Response)
	assert.Equal(t, 2, result.MessageCount)
	assert.Len(t, result.Conversation, 4)
	assert.Equal(t, 3, env.completer.Calls(), "model classification plus response")

	second := env.completer.Last()
	require.Len(t, second, 3)
	assert.Equal(t, "What is the capital of France?", second[0].Content)
	assert.Equal(t, "Paris.", second[1].Content)
	assert.Equal(t, "And Germany?", second[2].Content)

	history, err := env.engine.History(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, history.MessageCount)
	assert.Len(t, history.Conversation, 4)
}

func TestExecuteCountsAndOrdersHistory(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	env.completer.Reply = func(_ context.Context, messages []*schema.Message) (string, error) {
		if isClassification(messages) {
			return "other", nil
		}
		return "answer", nil
	}

	queries := []string{"capital of Spain?", "What's 2+2?", "How are you?", "largest city in Peru", "Tell me a joke"}
	for i, q := range queries {
		env.clock.Advance(time.Second)
		result, err := env.engine.Execute(ctx, session.ID, q)
		require.NoError(t, err)
		assert.Equal(t, i+1, result.MessageCount)
		assert.Len(t, result.Conversation, 2*(i+1))
	}

	history, err := env.engine.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history.Conversation, 2*len(queries))
	for i, q := range queries {
		user, assistant := history.Conversation[2*i], history.Conversation[2*i+1]
		assert.Equal(t, pkg.RoleUser, user.Role)
		assert.Equal(t, q, user.Content)
		assert.Equal(t, pkg.RoleAssistant, assistant.Role)
		expected := time.Date(2025, 1, 1, 12, 0, i+1, 0, time.UTC)
		assert.True(t, user.Timestamp.Equal(expected), "turn %d stamped %s", i, user.Timestamp)
		assert.True(t, assistant.Timestamp.Equal(expected))
		if i > 0 {
			assert.True(t, user.Timestamp.After(history.Conversation[2*i-1].Timestamp))
		}
	}
}

func TestExecuteDefaultOnlyConfig(t *testing.T) {
	completer := llmtest.Static("should not be used")
	env := newTestEnv(t, EngineConfig{
		Variant: config.VariantClassifying,
		Routing: config.RoutingConfig{FallbackResponse: "I can only help with country capitals."},
	}, completer)
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	result, err := env.engine.Execute(ctx, session.ID, "What's 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "I can only help with country capitals.", result.Response)
	assert.Equal(t, pkg.CategoryOther, result.Category)
	assert.Len(t, result.Conversation, 2)
	assert.Equal(t, 0, completer.Calls())
}

func TestExecuteFallbackAfterModelClassification(t *testing.T) {
	completer := &llmtest.Completer{Reply: func(_ context.Context, messages []*schema.Message) (string, error) {
		if isClassification(messages) {
			return "other", nil
		}
		return "unexpected", nil
	}}
	env := newTestEnv(t, classifyingConfig(), completer)
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	result, err := env.engine.Execute(ctx, session.ID, "What's 2+2?")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRouting().FallbackResponse, result.Response)
	assert.Equal(t, 1, completer.Calls(), "only the classification call")
}

func TestExecuteSimpleVariant(t *testing.T) {
	completer := llmtest.Static("Hello!")
	env := newTestEnv(t, EngineConfig{Variant: config.VariantSimple, Routing: config.DefaultRouting()}, completer)
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)
	assert.Equal(t, config.VariantSimple, env.engine.Variant())

	_, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)
	require.Len(t, completer.Last(), 1)
	assert.Equal(t, "What is the capital of France?", completer.Last()[0].Content, "no persona in the simple variant")

	result, err := env.engine.Execute(ctx, session.ID, "And Germany?")
	require.NoError(t, err)
	assert.Empty(t, result.Category)
	assert.Equal(t, 2, result.MessageCount)
	assert.Len(t, completer.Last(), 3)
	assert.Equal(t, 2, completer.Calls())
}

func TestExecuteUnknownSession(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())

	_, err := env.engine.Execute(context.Background(), "missing", "What is the capital of France?")
	assert.ErrorIs(t, err, pkg.ErrSessionNotFound)
	assert.Equal(t, 0, env.completer.Calls())
	assert.Equal(t, 0, env.store.Len())
}

func TestExecuteInvalidQuery(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	_, err := env.engine.Execute(ctx, session.ID, "   ")
	assert.ErrorIs(t, err, pkg.ErrInvalidQuery)

	_, err = env.engine.Execute(ctx, session.ID, strings.Repeat("a", MaxQueryLength+1))
	assert.ErrorIs(t, err, pkg.ErrInvalidQuery)

	_, err = env.engine.Execute(ctx, session.ID, strings.Repeat("é", MaxQueryLength))
	assert.NoError(t, err)
}

func TestExecuteProviderFailureIsAtomic(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	_, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)

	env.completer.Reply = llmtest.Failing().Reply
	_, err = env.engine.Execute(ctx, session.ID, "What is the capital of Germany?")
	require.Error(t, err)

	history, err := env.engine.History(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, history.MessageCount)
	assert.Len(t, history.Conversation, 2)

	state, err := env.store.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, state.CurrentQuery)
	assert.Empty(t, state.Response)
}

func TestExecuteFirstQueryFailureLeavesNoState(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), llmtest.Failing())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	_, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.Error(t, err)
	assert.Equal(t, 0, env.store.Len())

	got, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.MessageCount)
}

func TestExecuteSkipsMalformedHistory(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	created := env.clock.Now()
	require.NoError(t, env.store.Save(ctx, session.ID, &pkg.ConversationState{
		SessionID: session.ID,
		CreatedAt: created,
		Conversation: []pkg.ConversationTurn{
			{Role: pkg.RoleUser, Content: "What is the capital of France?"},
			{Content: "turn without a role"},
			{Role: pkg.RoleAssistant, Content: "Paris."},
		},
	}))

	result, err := env.engine.Execute(ctx, session.ID, "And the capital of Germany?")
	require.NoError(t, err)
	assert.Equal(t, "Berlin.", result.Response)
	require.Len(t, result.Conversation, 5)
	assert.Equal(t, "And the capital of Germany?", result.Conversation[3].Content)
	assert.Equal(t, "Berlin.", result.Conversation[4].Content)
	assert.Len(t, env.completer.Last(), 3)

	state, err := env.store.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, created.Equal(state.CreatedAt), "existing state is not reinitialized")
}

func TestEndSessionDiscardsState(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	_, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Len())

	assert.True(t, env.engine.EndSession(ctx, session.ID))
	assert.False(t, env.engine.EndSession(ctx, session.ID))
	assert.Equal(t, 0, env.store.Len())

	_, err = env.engine.History(ctx, session.ID)
	assert.ErrorIs(t, err, pkg.ErrSessionNotFound)
	_, err = env.engine.Execute(ctx, session.ID, "And Germany?")
	assert.ErrorIs(t, err, pkg.ErrSessionNotFound)

	fresh := env.engine.CreateSession(ctx)
	history, err := env.engine.History(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, history.Conversation)
	assert.Equal(t, 0, history.MessageCount)
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()

	stale := env.engine.CreateSession(ctx)
	_, err := env.engine.Execute(ctx, stale.ID, "What is the capital of France?")
	require.NoError(t, err)

	env.clock.Advance(20 * time.Minute)
	live := env.engine.CreateSession(ctx)
	env.clock.Advance(11 * time.Minute)

	assert.Equal(t, 1, env.engine.Stats().TotalSessions)
	assert.Equal(t, 1, env.engine.SweepExpired(ctx))
	assert.Equal(t, 0, env.engine.SweepExpired(ctx))
	assert.Equal(t, 0, env.store.Len())

	_, err = env.engine.Execute(ctx, stale.ID, "And Germany?")
	assert.ErrorIs(t, err, pkg.ErrSessionNotFound)

	_, err = env.engine.GetSession(ctx, live.ID)
	assert.NoError(t, err)
}

func TestSessionEndedDuringExecution(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	env.completer.Reply = func(context.Context, []*schema.Message) (string, error) {
		env.engine.EndSession(ctx, session.ID)
		return "Paris.", nil
	}

	result, err := env.engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", result.Response)
	assert.Equal(t, 1, result.MessageCount)
	assert.Equal(t, 0, env.store.Len(), "no state outlives its session")

	_, err = env.engine.Execute(ctx, session.ID, "And Germany?")
	assert.ErrorIs(t, err, pkg.ErrSessionNotFound)
}

func TestConcurrentQueriesSameSession(t *testing.T) {
	completer := &llmtest.Completer{Reply: func(_ context.Context, messages []*schema.Message) (string, error) {
		time.Sleep(time.Millisecond)
		return fmt.Sprintf("answer %d", len(messages)), nil
	}}
	env := newTestEnv(t, EngineConfig{Variant: config.VariantSimple, Routing: config.DefaultRouting()}, completer)
	ctx := context.Background()
	session := env.engine.CreateSession(ctx)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.engine.Execute(ctx, session.ID, fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := env.engine.History(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, n, history.MessageCount)
	assert.Len(t, history.Conversation, 2*n)
	assert.Equal(t, 0, env.engine.locks.len())
}

func TestConcurrentSessions(t *testing.T) {
	env := newTestEnv(t, classifyingConfig(), geographyModel())
	ctx := context.Background()

	const sessions, queries = 8, 5
	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = env.engine.CreateSession(ctx).ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for q := 0; q < queries; q++ {
				_, err := env.engine.Execute(ctx, id, "What is the capital of France?")
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			env.engine.SweepExpired(ctx)
			env.engine.Stats()
		}
	}()
	wg.Wait()

	for _, id := range ids {
		history, err := env.engine.History(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queries, history.MessageCount)
		assert.Len(t, history.Conversation, 2*queries)
	}
	assert.InDelta(t, float64(queries), env.engine.Stats().AverageMessages, 1e-9)
}

func TestNewEngineValidation(t *testing.T) {
	registry := storage.NewMemorySessionRegistry(time.Minute)
	store := storage.NewMemoryStateStore()
	ctx := context.Background()

	_, err := NewEngine(ctx, classifyingConfig(), registry, store, nil)
	assert.ErrorIs(t, err, pkg.ErrConfiguration)

	_, err = NewEngine(ctx, EngineConfig{Variant: "bogus", Routing: config.DefaultRouting()}, registry, store, llmtest.Static("x"))
	assert.ErrorIs(t, err, pkg.ErrConfiguration)

	_, err = NewEngine(ctx, EngineConfig{Routing: config.RoutingConfig{}}, registry, store, llmtest.Static("x"))
	assert.ErrorIs(t, err, pkg.ErrConfiguration)

	engine, err := NewEngine(ctx, EngineConfig{Routing: config.DefaultRouting()}, registry, store, llmtest.Static("x"))
	require.NoError(t, err)
	assert.True(t, engine.Ready())
	assert.Equal(t, config.VariantClassifying, engine.Variant())
}

func TestRedisStateOutlivesIdleReads(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	advance := func(d time.Duration) {
		clock.Advance(d)
		mr.FastForward(d)
	}

	timeout := 30 * time.Minute
	registry := storage.NewMemorySessionRegistry(timeout, storage.WithClock(clock.Now))
	store := storage.NewRedisStateStoreFromClient(client, timeout)
	engine, err := NewEngine(ctx, classifyingConfig(), registry, store, geographyModel(), WithClock(clock.Now))
	require.NoError(t, err)

	session := engine.CreateSession(ctx)
	_, err = engine.Execute(ctx, session.ID, "What is the capital of France?")
	require.NoError(t, err)

	advance(20 * time.Minute)
	history, err := engine.History(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history.Conversation, 2)

	advance(15 * time.Minute)
	_, err = engine.GetSession(ctx, session.ID)
	require.NoError(t, err)

	advance(20 * time.Minute)
	result, err := engine.Execute(ctx, session.ID, "And Germany?")
	require.NoError(t, err)
	assert.Equal(t, 2, result.MessageCount)
	require.Len(t, result.Conversation, 4)
	assert.Equal(t, "What is the capital of France?", result.Conversation[0].Content)
	assert.Equal(t, "Berlin.", result.Conversation[3].Content)

	assert.True(t, engine.EndSession(ctx, session.ID))
	assert.False(t, mr.Exists("conversation:"+session.ID))
}
