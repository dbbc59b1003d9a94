package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"eino_session_agent/internal/core"
	"eino_session_agent/pkg"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Start an interactive session. Type a question and press enter.
Commands: /history prints the conversation, /new starts a fresh session,
quit, exit or q leaves.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return chatLoop(ctx, a.engine, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop reads queries line by line and prints the agent replies
func chatLoop(ctx context.Context, engine *core.Engine, in io.Reader, out io.Writer) error {
	session := engine.CreateSession(ctx)

	fmt.Fprintln(out, "Eino Session Agent")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Session %s\n", session.ID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nEnter your query (or 'quit' to exit): ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Goodbye!")
			engine.EndSession(ctx, session.ID)
			return nil
		case "":
			continue
		case "/history":
			printHistory(ctx, engine, session.ID, out)
			continue
		case "/new":
			engine.EndSession(ctx, session.ID)
			session = engine.CreateSession(ctx)
			fmt.Fprintf(out, "Started session %s\n", session.ID)
			continue
		}

		result, err := engine.Execute(ctx, session.ID, input)
		switch {
		case errors.Is(err, pkg.ErrSessionNotFound):
			session = engine.CreateSession(ctx)
			fmt.Fprintf(out, "Session expired, started session %s. Please ask again.\n", session.ID)
		case err != nil:
			fmt.Fprintf(out, "Error: %v\n", err)
		default:
			fmt.Fprintf(out, "\nResponse: %s\n", result.Response)
		}
	}

	engine.EndSession(ctx, session.ID)
	return scanner.Err()
}

func printHistory(ctx context.Context, engine *core.Engine, sessionID string, out io.Writer) {
	history, err := engine.History(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if len(history.Conversation) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return
	}
	for _, turn := range history.Conversation {
		fmt.Fprintf(out, "[%s] %s: %s\n", turn.Timestamp.Format("15:04:05"), turn.Role, turn.Content)
	}
}
