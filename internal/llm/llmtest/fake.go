// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"eino_session_agent/pkg"

	"github.com/cloudwego/eino/schema"
)

// Completer answers with Reply and records every call
type Completer struct {
	// Reply produces the answer for a call; nil answers "ok"
	Reply func(ctx context.Context, messages []*schema.Message) (string, error)

	mu    sync.Mutex
	calls [][]*schema.Message
}

// Static returns a completer that always answers text
func Static(text string) *Completer {
	return &Completer{Reply: func(context.Context, []*schema.Message) (string, error) {
		return text, nil
	}}
}

// Failing returns a completer whose calls all fail with pkg.ErrCompletionProvider
func Failing() *Completer {
	return &Completer{Reply: func(context.Context, []*schema.Message) (string, error) {
		return "", fmt.Errorf("%w: provider unavailable", pkg.ErrCompletionProvider)
	}}
}

func (c *Completer) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	copied := make([]*schema.Message, len(messages))
	for i, m := range messages {
		msg := *m
		copied[i] = &msg
	}

	c.mu.Lock()
	c.calls = append(c.calls, copied)
	c.mu.Unlock()

	if c.Reply == nil {
		return "ok", nil
	}
	return c.Reply(ctx, messages)
}

// Calls returns the number of Complete calls so far
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Call returns the messages received by the i-th call
func (c *Completer) Call(i int) []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// Last returns the messages of the latest call, or nil
func (c *Completer) Last() []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}
