// Package gateway is the front door: it classifies each request and either
// hands it to the in-process backend or forwards it to the UI process.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microsoft/secure-azureai-agent/internal/api/middleware"
	"github.com/microsoft/secure-azureai-agent/internal/observability"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
)

// Defaults applied by New when the corresponding option is unset.
const (
	DefaultProxyTimeout = 30 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

// TargetSource reports where UI traffic goes and whether it can be served.
type TargetSource interface {
	Target() models.ProxyTarget
}

// Options configures a Gateway.
type Options struct {
	// Backend serves API and chat stream routes.
	Backend http.Handler
	// BackendReady reports whether the generation backend initialized.
	BackendReady func() bool
	UI           TargetSource
	// Port is the gateway listen port, reported by /health.
	Port         int
	ProxyTimeout time.Duration
	DialTimeout  time.Duration
	Metrics      *observability.Metrics
	// Transport overrides the UI proxy transport, for tests.
	Transport http.RoundTripper
}

// Gateway routes inbound traffic.
type Gateway struct {
	backend      http.Handler
	api          http.Handler
	backendReady func() bool
	ui           TargetSource
	port         int
	client       *http.Client
	dialer       *websocket.Dialer
	dialTimeout  time.Duration
	metrics      *observability.Metrics
	uiHandler    http.Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	if opts.ProxyTimeout <= 0 {
		opts.ProxyTimeout = DefaultProxyTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.BackendReady == nil {
		opts.BackendReady = func() bool { return true }
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		backend:      opts.Backend,
		api:          http.StripPrefix("/api", opts.Backend),
		backendReady: opts.BackendReady,
		ui:           opts.UI,
		port:         opts.Port,
		client: &http.Client{
			Timeout:   opts.ProxyTimeout,
			Transport: transport,
			// Redirects are relayed to the browser.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
		dialTimeout: opts.DialTimeout,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
	g.uiHandler = middleware.Logger(middleware.Recoverer(http.HandlerFunc(g.serveUpstream)))
	return g
}

// ServeHTTP dispatches by Classify.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch Classify(r) {
	case RouteAPI:
		g.serveAPI(w, r)
	case RouteChatStream:
		g.backend.ServeHTTP(w, r)
	default:
		g.uiHandler.ServeHTTP(w, r)
	}
}

// Close ends every open WebSocket relay.
func (g *Gateway) Close() {
	g.cancel()
}

func (g *Gateway) serveAPI(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health":
		g.health(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/"):
		g.api.ServeHTTP(w, r)
	default:
		g.backend.ServeHTTP(w, r)
	}
}

func (g *Gateway) serveUpstream(w http.ResponseWriter, r *http.Request) {
	if Classify(r) == RouteWebSocket {
		g.serveWebSocket(w, r)
		return
	}
	g.serveUI(w, r)
}

// health reports backend readiness and UI process state. It always answers
// 200 so the gateway stays up while the UI is down.
// GET /health
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	target := g.ui.Target()

	backend := "running"
	if !g.backendReady() {
		backend = "degraded"
	}
	resp := map[string]interface{}{
		"status":        "healthy",
		"backend":       backend,
		"frontend":      string(target.Status),
		"port":          g.port,
		"chainlit_port": target.Port,
	}
	if target.Status == models.ProcessFailed && target.Error != "" {
		resp["frontend_error"] = target.Error
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
