package llm

import (
	"context"
	"errors"
	"fmt"

	"eino_session_agent/pkg"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Completer is the opaque text-completion capability: ordered turns in, text out
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// ChatCompleter adapts an Eino chat model to Completer
type ChatCompleter struct {
	model model.BaseChatModel
}

// NewChatCompleter creates a completer backed by the given chat model
func NewChatCompleter(chatModel model.BaseChatModel) *ChatCompleter {
	return &ChatCompleter{model: chatModel}
}

// Complete sends the turns to the model and returns the reply text.
// Every failure wraps pkg.ErrCompletionProvider.
func (c *ChatCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages to complete", pkg.ErrCompletionProvider)
	}

	out, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pkg.ErrCompletionProvider, err)
	}
	if out == nil {
		return "", fmt.Errorf("%w: %w", pkg.ErrCompletionProvider, errEmptyReply)
	}

	return out.Content, nil
}

var errEmptyReply = errors.New("model returned no message")
