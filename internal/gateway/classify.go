package gateway

import (
	"net/http"
	"strings"
)

// Route is the class of an inbound gateway request.
type Route string

const (
	// RouteAPI is passed untouched to the backend handler.
	RouteAPI Route = "api"
	// RouteChatStream is the long-lived streaming endpoint, also served by
	// the backend. It must never go through the buffered UI proxy.
	RouteChatStream Route = "chat_stream"
	// RouteWebSocket is relayed full duplex to the UI process.
	RouteWebSocket Route = "websocket"
	// RouteUI is buffered-forwarded to the UI process.
	RouteUI Route = "ui"
)

// ChatStreamPath is the streaming chat endpoint.
const ChatStreamPath = "/chat/stream"

var apiPrefixes = []string{"/api/", "/health", "/docs"}

var apiPaths = map[string]bool{
	"/openapi.json": true,
	"/metrics":      true,
}

// Classify maps a request to exactly one Route. Rules are evaluated in
// order and the first match wins:
//
//  1. API namespace, health and docs paths
//  2. the chat streaming path
//  3. WebSocket paths or an Upgrade: websocket header
//  4. everything else
func Classify(r *http.Request) Route {
	path := r.URL.Path

	for _, p := range apiPrefixes {
		if strings.HasPrefix(path, p) {
			return RouteAPI
		}
	}
	if apiPaths[path] {
		return RouteAPI
	}

	if path == ChatStreamPath {
		return RouteChatStream
	}

	if strings.HasPrefix(path, "/ws/") || path == "/chat/ws" || isWebSocketUpgrade(r) {
		return RouteWebSocket
	}

	return RouteUI
}

func isWebSocketUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Upgrade") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "websocket") {
				return true
			}
		}
	}
	return false
}
