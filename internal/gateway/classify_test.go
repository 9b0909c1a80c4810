package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		method  string
		path    string
		upgrade string
		want    Route
	}{
		{http.MethodGet, "/health", "", RouteAPI},
		{http.MethodGet, "/healthz", "", RouteAPI},
		{http.MethodGet, "/docs", "", RouteAPI},
		{http.MethodGet, "/docs/oauth2-redirect", "", RouteAPI},
		{http.MethodGet, "/openapi.json", "", RouteAPI},
		{http.MethodGet, "/metrics", "", RouteAPI},
		{http.MethodPost, "/api/chat/stream", "", RouteAPI},
		{http.MethodGet, "/api/chat/ws", "websocket", RouteAPI},
		{http.MethodPost, "/chat/stream", "", RouteChatStream},
		{http.MethodGet, "/chat/stream", "websocket", RouteChatStream},
		{http.MethodGet, "/chat/ws", "", RouteWebSocket},
		{http.MethodGet, "/ws/socket.io/", "", RouteWebSocket},
		{http.MethodGet, "/socket.io/", "WebSocket", RouteWebSocket},
		{http.MethodGet, "/anything", "keep-alive, websocket", RouteWebSocket},
		{http.MethodGet, "/", "", RouteUI},
		{http.MethodGet, "/chat/stream/extra", "", RouteUI},
		{http.MethodGet, "/chat/streams", "", RouteUI},
		{http.MethodGet, "/assets/index.js", "", RouteUI},
		{http.MethodGet, "/apis", "", RouteUI},
		{http.MethodGet, "/metrics/extra", "", RouteUI},
		{http.MethodPost, "/project/settings", "h2c", RouteUI},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.upgrade != "" {
			r.Header.Set("Upgrade", tc.upgrade)
		}
		got := Classify(r)
		assert.Equal(t, tc.want, got, "%s %s upgrade=%q", tc.method, tc.path, tc.upgrade)

		// Deterministic.
		assert.Equal(t, got, Classify(r))
	}
}
