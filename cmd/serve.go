package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eino_session_agent/internal/core"
	"eino_session_agent/internal/server"
	"eino_session_agent/src/logger"

	"github.com/spf13/cobra"
)

var (
	serveAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	logger.Info().Str("name", cfg.App.Name).Str("version", cfg.App.Version).Msg("Starting application")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	h := server.NewHandler(a.engine, cfg.App, credentialConfigured(cfg), a.metrics)
	e := server.New(cfg.HTTP, h)

	go runSweeper(ctx, a.engine, cfg.Session.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down application...")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to shut down HTTP server gracefully")
	}

	if cleaned := a.engine.SweepExpired(shutdownCtx); cleaned > 0 {
		logger.Info().Int("count", cleaned).Msg("Cleaned up expired sessions during shutdown")
	}
	logger.Info().Msg("Application shutdown complete")
	return nil
}

// runSweeper removes expired sessions every interval until ctx is done
func runSweeper(ctx context.Context, engine *core.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.SweepExpired(ctx)
		}
	}
}
