// Package server provides the public entry point for composing the chat
// backend and the gateway from a Config.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg, server.ModeGateway)
//	srv.Start(ctx)
//	http.ListenAndServe(":8000", srv.Handler)
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/microsoft/secure-azureai-agent/internal/api"
	"github.com/microsoft/secure-azureai-agent/internal/api/handlers"
	"github.com/microsoft/secure-azureai-agent/internal/config"
	"github.com/microsoft/secure-azureai-agent/internal/gateway"
	"github.com/microsoft/secure-azureai-agent/internal/generator"
	"github.com/microsoft/secure-azureai-agent/internal/observability"
	"github.com/microsoft/secure-azureai-agent/internal/process"
	"github.com/microsoft/secure-azureai-agent/internal/sessions"
	"github.com/microsoft/secure-azureai-agent/internal/stream"
	"github.com/microsoft/secure-azureai-agent/internal/telemetry"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// Mode selects what the server exposes.
type Mode string

const (
	// ModeGateway serves the backend in process and fronts the UI process.
	ModeGateway Mode = "gateway"
	// ModeBackend serves only the chat backend API.
	ModeBackend Mode = "backend"
)

var processStates = []string{
	string(models.ProcessStopped),
	string(models.ProcessStarting),
	string(models.ProcessRunning),
	string(models.ProcessFailed),
}

// Server holds the initialized components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Backend is the chat backend router. In gateway mode it is reached
	// through Handler.
	Backend http.Handler

	Sessions   *sessions.MemoryStore
	Selector   *generator.Selector
	Metrics    *observability.Metrics
	Gateway    *gateway.Gateway    // nil in backend mode
	Supervisor *process.Supervisor // nil in backend mode

	Config *config.Config
	Mode   Mode

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error

	cancel context.CancelFunc
}

// New initializes every component for mode and returns a ready Server.
func New(ctx context.Context, cfg *config.Config, mode Mode) (*Server, error) {
	if mode != ModeGateway && mode != ModeBackend {
		return nil, fmt.Errorf("unknown server mode %q", mode)
	}

	missing, warnings := cfg.Validate()
	for _, name := range missing {
		log.Warn().Str("variable", name).Msg("Required environment variable not set, backend will run degraded")
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	// Initialize telemetry
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics := observability.New()

	store := sessions.NewMemoryStore(sessions.Options{
		MaxEntries:    cfg.Sessions.MaxEntries,
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		OnResize:      metrics.SetSessions,
	})
	log.Info().Msg("Session store initialized")

	selector := generator.New(cfg)

	translator := stream.New(store, selector, stream.Options{
		GenerationTimeout:    cfg.Stream.GenerationTimeout,
		TraceLimit:           cfg.Stream.TraceLimit,
		Locale:               cfg.Locale,
		SensitiveDiagnostics: cfg.Stream.SensitiveDiagnostic,
		ContentRecording:     cfg.Stream.ContentRecording,
		Metrics:              metrics,
	})

	h := handlers.New(translator, store, selector)
	backend := api.NewRouter(cfg, h, metrics)

	srv := &Server{
		Handler:      backend,
		Backend:      backend,
		Sessions:     store,
		Selector:     selector,
		Metrics:      metrics,
		Config:       cfg,
		Mode:         mode,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}

	if mode == ModeGateway {
		srv.Supervisor = process.NewSupervisor(process.Options{
			Host:        cfg.UI.Host,
			Port:        cfg.UI.Port,
			Managed:     cfg.UI.Managed,
			Command:     cfg.UI.Command,
			AppPath:     cfg.UI.AppPath,
			WorkDir:     cfg.UI.WorkDir,
			Env:         []string{"BACKEND_API_URL=" + cfg.UIBackendURL()},
			StartGrace:  cfg.UI.StartGrace,
			StopTimeout: cfg.UI.StopTimeout,
			OnState: func(st models.ProcessStatus) {
				metrics.SetUIState(string(st), processStates...)
			},
		})
		srv.Gateway = gateway.New(gateway.Options{
			Backend:      backend,
			BackendReady: selector.Ready,
			UI:           srv.Supervisor,
			Port:         cfg.Port,
			ProxyTimeout: cfg.UI.ProxyTimeout,
			Metrics:      metrics,
		})
		srv.Handler = srv.Gateway
		log.Info().
			Str("ui_target", srv.Supervisor.Target().Addr()).
			Bool("ui_managed", cfg.UI.Managed).
			Msg("Gateway initialized")
	}

	return srv, nil
}

// Start launches background work: the session sweeper and, in gateway
// mode, the UI process. A UI process that fails to start leaves the
// gateway serving in degraded mode.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.Sessions.Run(ctx)

	if s.Supervisor != nil {
		if err := s.Supervisor.Start(ctx); err != nil {
			log.Error().Err(err).Msg("UI process failed to start, serving API routes only")
		}
	}
}

// Shutdown stops background work, the UI process and telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if s.Gateway != nil {
		s.Gateway.Close()
	}
	if s.Supervisor != nil {
		if err := s.Supervisor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop UI process: %w", err))
		}
	}
	if s.ShutdownFunc != nil {
		if err := s.ShutdownFunc(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
