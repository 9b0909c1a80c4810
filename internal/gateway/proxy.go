package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxProxyBody bounds request and response bodies of the buffered proxy.
const maxProxyBody = 64 << 20

// Headers recomputed by the transport or meaningful only per hop.
var (
	skipRequestHeaders = headerSet(
		"Host", "Content-Length", "Connection", "Accept-Encoding",
		"Transfer-Encoding", "Keep-Alive", "Upgrade", "Proxy-Connection",
		"Te", "Trailer",
	)
	skipResponseHeaders = headerSet(
		"Content-Length", "Content-Encoding", "Transfer-Encoding",
		"Connection", "Keep-Alive",
	)
)

func headerSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[http.CanonicalHeaderKey(n)] = true
	}
	return m
}

func copyHeaders(dst, src http.Header, skip map[string]bool) {
	for k, vv := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// serveUI buffers one request/response exchange with the UI process.
func (g *Gateway) serveUI(w http.ResponseWriter, r *http.Request) {
	target := g.ui.Target()
	switch target.Status {
	case models.ProcessRunning:
	case models.ProcessStarting:
		g.metrics.ProxyRequest(string(RouteUI), http.StatusServiceUnavailable)
		writeStarting(w)
		return
	default:
		g.metrics.ProxyRequest(string(RouteUI), http.StatusServiceUnavailable)
		writeUnavailable(w)
		return
	}

	status := g.forward(w, r, target)
	g.metrics.ProxyRequest(string(RouteUI), status)
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, target models.ProxyTarget) int {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
	if err != nil {
		respondProxyError(w)
		return http.StatusBadGateway
	}

	upstreamURL := url.URL{
		Scheme:   "http",
		Host:     target.Addr(),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), bytes.NewReader(body))
	if err != nil {
		respondProxyError(w)
		return http.StatusBadGateway
	}
	copyHeaders(req.Header, r.Header, skipRequestHeaders)

	resp, err := g.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			return 0
		}
		if isUnreachable(err) {
			log.Warn().Err(err).Str("target", target.Addr()).Msg("Cannot connect to UI process, showing unavailable page")
			writeUnavailable(w)
			return http.StatusServiceUnavailable
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Proxy error")
		respondProxyError(w)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBody))
	if err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Proxy error reading UI response")
		respondProxyError(w)
		return http.StatusBadGateway
	}

	copyHeaders(w.Header(), resp.Header, skipResponseHeaders)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	return resp.StatusCode
}

// isUnreachable reports connection refusal and timeouts.
func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func respondProxyError(w http.ResponseWriter) {
	respondJSON(w, http.StatusBadGateway, map[string]string{"error": "Proxy error"})
}
