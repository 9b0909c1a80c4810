package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/microsoft/secure-azureai-agent/internal/config"
	"github.com/microsoft/secure-azureai-agent/internal/telemetry"
	"github.com/microsoft/secure-azureai-agent/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

type flags struct {
	port      int
	uiPort    int
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "troubleshoot",
		Short:         "Streaming Azure troubleshooting chat gateway",
		Version:       telemetry.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, server.ModeGateway)
		},
	}
	root.PersistentFlags().IntVar(&f.port, "port", 0, "listen port (overrides PORT)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "log format: console or json (overrides LOG_FORMAT)")

	gatewayCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the backend API and proxy everything else to the UI process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, server.ModeGateway)
		},
	}
	gatewayCmd.Flags().IntVar(&f.uiPort, "ui-port", 0, "UI process port (overrides CHAINLIT_PORT)")
	root.Flags().AddFlagSet(gatewayCmd.Flags())

	backendCmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve only the chat backend API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, server.ModeBackend)
		},
	}

	root.AddCommand(gatewayCmd, backendCmd)
	return root
}

func run(ctx context.Context, f flags, mode server.Mode) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg, f)
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("mode", string(mode)).
		Str("environment", cfg.Environment).
		Msg("Troubleshoot gateway starting...")

	srv, err := server.New(ctx, cfg, mode)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.Port),
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat streams and WebSocket relays are long-lived; the generation
		// timeout bounds them instead.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	srv.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", srv.Port).
			Msg("Server is ready")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			shutdown(httpServer, srv)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	return shutdown(httpServer, srv)
}

func shutdown(httpServer *http.Server, srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func applyFlags(cfg *config.Config, f flags) {
	if f.port > 0 {
		cfg.Port = f.port
	}
	if f.uiPort > 0 {
		cfg.UI.Port = f.uiPort
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
