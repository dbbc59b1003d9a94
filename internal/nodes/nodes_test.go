package nodes

import (
	"context"
	"testing"
	"time"

	"eino_session_agent/internal/classifier"
	"eino_session_agent/internal/config"
	"eino_session_agent/internal/llm/llmtest"
	"eino_session_agent/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartNode(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	node := NewStartNode(func() time.Time { return now })
	assert.Equal(t, NodeSessionStart, node.GetName())

	state, err := node.Execute(context.Background(), &pkg.ConversationState{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, now, state.CreatedAt)
	assert.Equal(t, now, state.LastActivity)
	assert.NotNil(t, state.Conversation)
	assert.Empty(t, state.Conversation)

	created := now
	now = now.Add(time.Minute)
	state.Conversation = priorExchange()

	state, err = node.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, created, state.CreatedAt, "created_at is set once")
	assert.Equal(t, now, state.LastActivity)
	assert.Len(t, state.Conversation, 2)

	_, err = node.Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestClassifyNode(t *testing.T) {
	c := classifier.New(llmtest.Static("other"), classifier.RulesFromRouting(config.DefaultRouting()))
	node := NewClassifyNode(c)

	state, err := node.Execute(context.Background(), &pkg.ConversationState{CurrentQuery: "capital of Peru"})
	require.NoError(t, err)
	assert.Equal(t, pkg.CategoryGeography, state.Category)

	state, err = node.Execute(context.Background(), &pkg.ConversationState{CurrentQuery: "How are you?"})
	require.NoError(t, err)
	assert.Equal(t, pkg.CategoryOther, state.Category)
}

func TestStrategyNode(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	node := NewStrategyNode(AgentNodeName(pkg.CategoryGeography),
		NewSpecializedStrategy(pkg.CategoryGeography, persona, llmtest.Static("Lima."), nil),
		func() time.Time { return now })
	assert.Equal(t, "geography_agent", node.GetName())

	state, err := node.Execute(context.Background(), &pkg.ConversationState{CurrentQuery: "capital of Peru"})
	require.NoError(t, err)
	assert.Equal(t, "Lima.", state.Response)
	assert.Len(t, state.Conversation, 2)
	assert.Equal(t, now, state.LastActivity)
}

func TestStrategyNodeFailure(t *testing.T) {
	node := NewStrategyNode(NodeConversationAgent, NewGeneralStrategy(llmtest.Failing(), nil), nil)

	_, err := node.Execute(context.Background(), &pkg.ConversationState{CurrentQuery: "hi"})
	assert.ErrorIs(t, err, pkg.ErrCompletionProvider)
}

func TestRouter(t *testing.T) {
	r := NewRouter([]pkg.Category{pkg.CategoryGeography, "weather"})

	tests := []struct {
		category pkg.Category
		want     string
	}{
		{pkg.CategoryGeography, "geography_agent"},
		{"weather", "weather_agent"},
		{pkg.CategoryOther, NodeDefaultResponder},
		{"", NodeDefaultResponder},
		{"sports", NodeDefaultResponder},
	}
	for _, tt := range tests {
		got, err := r.Route(context.Background(), &pkg.ConversationState{Category: tt.category})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "category %q", tt.category)
	}

	assert.Equal(t, map[string]bool{
		"geography_agent":    true,
		"weather_agent":      true,
		NodeDefaultResponder: true,
	}, r.Targets())
}
