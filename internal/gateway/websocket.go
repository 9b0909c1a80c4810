package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const closeWriteWait = time.Second

type side string

const (
	sideClient   side = "client"
	sideUpstream side = "upstream"
)

// relayEnd reports which leg ended a relay and how.
type relayEnd struct {
	side side
	err  error
}

func (e *relayEnd) Error() string { return string(e.side) + ": " + e.err.Error() }
func (e *relayEnd) Unwrap() error { return e.err }

// serveWebSocket relays a WebSocket connection to the same path on the UI
// process.
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	target := g.ui.Target()
	logger := log.With().Str("path", r.URL.Path).Str("target", target.Addr()).Logger()

	if !target.Live {
		conn, err := g.upgrader(nil).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		record := g.metrics.WebSocketOpened()
		writeClose(conn, websocket.CloseGoingAway, "frontend not ready")
		conn.Close()
		record(websocket.CloseGoingAway)
		logger.Info().Str("status", string(target.Status)).Msg("WebSocket refused, UI process not running")
		return
	}

	upstreamURL := url.URL{
		Scheme:   "ws",
		Host:     target.Addr(),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	header := http.Header{}
	for _, k := range []string{"Cookie", "Origin", "Authorization", "User-Agent"} {
		if vv := r.Header.Values(k); len(vv) > 0 {
			header[k] = vv
		}
	}

	dialer := *g.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	dialCtx, cancel := context.WithTimeout(r.Context(), g.dialTimeout)
	upstream, resp, err := dialer.DialContext(dialCtx, upstreamURL.String(), header)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		logger.Error().Err(err).Msg("WebSocket dial to UI process failed")
		conn, upErr := g.upgrader(nil).Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		record := g.metrics.WebSocketOpened()
		writeClose(conn, websocket.CloseInternalServerErr, "upstream unavailable")
		conn.Close()
		record(websocket.CloseInternalServerErr)
		return
	}

	var protocols []string
	if p := upstream.Subprotocol(); p != "" {
		protocols = []string{p}
	}
	client, err := g.upgrader(protocols).Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		return
	}

	// Hijacked connections outlive server shutdown, so the relay also
	// follows the gateway's own lifetime.
	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	unregister := context.AfterFunc(g.ctx, stop)
	defer unregister()

	record := g.metrics.WebSocketOpened()
	logger.Debug().Msg("WebSocket relay opened")
	code := relay(ctx, client, upstream)
	record(code)
	logger.Debug().Int("close_code", code).Msg("WebSocket relay closed")
}

func (g *Gateway) upgrader(subprotocols []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    subprotocols,
		// The UI process applies its own origin policy to the forwarded Origin.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// relay copies messages both ways until either leg ends, then closes both
// sockets. It returns the close code sent to the client.
func relay(ctx context.Context, client, upstream *websocket.Conn) int {
	eg, egCtx := errgroup.WithContext(ctx)

	var (
		once       sync.Once
		clientCode int
	)
	finish := func(end *relayEnd) {
		once.Do(func() {
			clientCode = closeBoth(client, upstream, end)
		})
	}

	eg.Go(func() error {
		end := pump(client, upstream, sideUpstream)
		finish(end)
		return end
	})
	eg.Go(func() error {
		end := pump(upstream, client, sideClient)
		finish(end)
		return end
	})
	eg.Go(func() error {
		<-egCtx.Done()
		// A parent cancellation reaches here first; a leg ending has
		// already run finish.
		finish(&relayEnd{err: context.Cause(egCtx)})
		return nil
	})

	err := eg.Wait()
	var end *relayEnd
	if errors.As(err, &end) && end.side != "" {
		log.Debug().Str("ended_by", string(end.side)).Err(end.err).Msg("WebSocket relay leg ended")
	}
	return clientCode
}

// pump forwards src to dst until a read or write fails. The returned end
// names the leg at fault.
func pump(dst, src *websocket.Conn, from side) *relayEnd {
	to := sideClient
	if from == sideClient {
		to = sideUpstream
	}
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return &relayEnd{side: from, err: err}
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return &relayEnd{side: to, err: err}
		}
	}
}

// closeBoth sends close frames according to how the relay ended and closes
// both connections:
//
//   - upstream sent 1000 or 1001: relayed to the client as is
//   - upstream ended any other way: client gets 1011
//   - client sent a close frame: relayed upstream with the client's code
//   - client dropped, or the relay was cancelled: 1001
func closeBoth(client, upstream *websocket.Conn, end *relayEnd) int {
	defer client.Close()
	defer upstream.Close()

	var ce *websocket.CloseError
	isClose := errors.As(end.err, &ce)

	switch end.side {
	case sideUpstream:
		if isClose && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
			writeClose(client, ce.Code, ce.Text)
			return ce.Code
		}
		writeClose(client, websocket.CloseInternalServerErr, "upstream connection lost")
		writeClose(upstream, websocket.CloseInternalServerErr, "")
		return websocket.CloseInternalServerErr

	case sideClient:
		code, text := websocket.CloseGoingAway, ""
		if isClose && sendable(ce.Code) {
			code, text = ce.Code, ce.Text
		} else if isClose && ce.Code == websocket.CloseNoStatusReceived {
			code = websocket.CloseNormalClosure
		}
		writeClose(upstream, code, text)
		if !isClose {
			writeClose(client, websocket.CloseGoingAway, "")
		}
		if isClose {
			return ce.Code
		}
		return websocket.CloseGoingAway

	default:
		writeClose(client, websocket.CloseGoingAway, "server shutting down")
		writeClose(upstream, websocket.CloseGoingAway, "")
		return websocket.CloseGoingAway
	}
}

// sendable reports whether code may appear in a close frame.
func sendable(code int) bool {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return false
	}
	return code >= 1000 && code < 5000
}

func writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}
