package nodes

import (
	"context"
	"fmt"
	"time"

	"eino_session_agent/internal/llm"
	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"

	"github.com/cloudwego/eino/schema"
)

// Strategy produces the reply for a query given the prior conversation.
// The returned history is the input history plus the user and assistant turns;
// the input slice is never modified.
type Strategy interface {
	Name() string
	Respond(ctx context.Context, query string, history []pkg.ConversationTurn) (string, []pkg.ConversationTurn, error)
}

// SpecializedStrategy answers with a persona-conditioned completion.
// The persona is only sent when there is no prior conversation to replay.
type SpecializedStrategy struct {
	Category  pkg.Category
	Persona   string
	completer llm.Completer
	now       func() time.Time
}

// NewSpecializedStrategy creates a persona strategy; now stamps the recorded turns
func NewSpecializedStrategy(category pkg.Category, persona string, completer llm.Completer, now func() time.Time) *SpecializedStrategy {
	return &SpecializedStrategy{Category: category, Persona: persona, completer: completer, now: clockOrNow(now)}
}

func (s *SpecializedStrategy) Name() string {
	return string(s.Category)
}

func (s *SpecializedStrategy) Respond(ctx context.Context, query string, history []pkg.ConversationTurn) (string, []pkg.ConversationTurn, error) {
	messages := replayHistory(ctx, history)

	content := query
	if len(messages) == 0 && s.Persona != "" {
		content = fmt.Sprintf("%s\n\nUser question: %s", s.Persona, query)
	}
	messages = append(messages, schema.UserMessage(content))

	reply, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return "", history, err
	}

	logger.Ctx(ctx).Info().Str("strategy", s.Name()).Msg("Specialized query processed successfully")
	return reply, appendExchange(history, query, reply, s.now()), nil
}

// GeneralStrategy answers with a plain history-conditioned completion
type GeneralStrategy struct {
	completer llm.Completer
	now       func() time.Time
}

func NewGeneralStrategy(completer llm.Completer, now func() time.Time) *GeneralStrategy {
	return &GeneralStrategy{completer: completer, now: clockOrNow(now)}
}

func (g *GeneralStrategy) Name() string {
	return "general"
}

func (g *GeneralStrategy) Respond(ctx context.Context, query string, history []pkg.ConversationTurn) (string, []pkg.ConversationTurn, error) {
	messages := append(replayHistory(ctx, history), schema.UserMessage(query))

	reply, err := g.completer.Complete(ctx, messages)
	if err != nil {
		return "", history, err
	}

	logger.Ctx(ctx).Info().Int("history", len(history)).Msg("Query processed successfully")
	return reply, appendExchange(history, query, reply, g.now()), nil
}

// DefaultStrategy answers every query with a fixed message and never calls the model
type DefaultStrategy struct {
	Message string
	now     func() time.Time
}

func NewDefaultStrategy(message string, now func() time.Time) *DefaultStrategy {
	return &DefaultStrategy{Message: message, now: clockOrNow(now)}
}

func (d *DefaultStrategy) Name() string {
	return string(pkg.CategoryOther)
}

func (d *DefaultStrategy) Respond(ctx context.Context, query string, history []pkg.ConversationTurn) (string, []pkg.ConversationTurn, error) {
	logger.Ctx(ctx).Info().Msg("Providing default response")
	return d.Message, appendExchange(history, query, d.Message, d.now()), nil
}

// replayHistory converts stored turns to model messages, skipping turns that cannot be replayed
func replayHistory(ctx context.Context, history []pkg.ConversationTurn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	for i, turn := range history {
		if err := turn.Validate(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int("index", i).Msg("Skipping invalid message in history")
			continue
		}
		switch turn.Role {
		case pkg.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case pkg.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}

func appendExchange(history []pkg.ConversationTurn, query, reply string, at time.Time) []pkg.ConversationTurn {
	out := make([]pkg.ConversationTurn, len(history), len(history)+2)
	copy(out, history)
	return append(out,
		pkg.ConversationTurn{Role: pkg.RoleUser, Content: query, Timestamp: at},
		pkg.ConversationTurn{Role: pkg.RoleAssistant, Content: reply, Timestamp: at},
	)
}

func clockOrNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
