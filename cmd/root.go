package cmd

import (
	"context"
	"fmt"
	"os"

	"eino_session_agent/internal/config"
	"eino_session_agent/src/logger"

	"github.com/spf13/cobra"
)

var (
	envFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "session-agent",
		Short: "Session-based conversational agent built on an Eino workflow",
		Long: `session-agent keeps per-session conversation state, classifies each query
and routes it to a specialized or fallback responder.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogger(loaded.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	logger.Info().
		Str("provider", loaded.LLM.Provider).
		Str("model", loaded.LLM.Model).
		Str("variant", loaded.Workflow.Variant).
		Str("store", loaded.Store.Backend).
		Int("session_timeout_minutes", loaded.Session.TimeoutMinutes).
		Msg("Configuration validated successfully")

	cfg = loaded
	return nil
}
