// Package api assembles the chat backend HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microsoft/secure-azureai-agent/internal/api/handlers"
	"github.com/microsoft/secure-azureai-agent/internal/api/middleware"
	"github.com/microsoft/secure-azureai-agent/internal/config"
	"github.com/microsoft/secure-azureai-agent/internal/observability"
)

// NewRouter creates the backend router with all routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Telemetry)
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	if cfg.IsProduction() {
		r.Use(middleware.TrustedHost(cfg.TrustedHosts()))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & docs
	healthTimeout := cfg.Stream.HealthTimeout
	if healthTimeout > 0 {
		r.With(chimw.Timeout(healthTimeout)).Get("/health", h.Health)
	} else {
		r.Get("/health", h.Health)
	}
	r.Get("/openapi.json", handlers.OpenAPI)
	r.Get("/docs", handlers.Docs)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Chat
	r.Post("/chat/stream", h.ChatStream)
	r.Get("/sessions/{sessionID}", h.GetSession)

	return r
}
