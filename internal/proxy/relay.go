package proxy

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentgate/internal/observability/metrics"
)

const (
	relayHandshakeTimeout = 15 * time.Second
	closeWriteTimeout     = 5 * time.Second
)

// The gateway sits in front of arbitrary tenant UIs, so origin enforcement
// happens upstream, not here.
var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// relaySession is one relayed WebSocket connection: a client-facing socket
// and a backend-facing socket, each pumped by its own goroutine.
type relaySession struct {
	client  *websocket.Conn
	backend *websocket.Conn
	log     *slog.Logger

	mu          sync.Mutex
	backendOpen bool
}

// relayWebSocket accepts the client upgrade, dials the backend and pumps
// frames in both directions until either side closes. backendSecret, when
// non-empty, is injected as a query parameter on the backend-bound upgrade;
// an intermediate auth redirect strips query parameters from the original
// client URL, so the client cannot carry it itself.
func relayWebSocket(w http.ResponseWriter, r *http.Request, backendAddr, backendSecret string, log *slog.Logger) {
	target := url.URL{
		Scheme:   backendScheme(backendAddr, "ws", "wss"),
		Host:     backendAddr,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	if backendSecret != "" {
		query := target.Query()
		query.Set("token", backendSecret)
		target.RawQuery = query.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: relayHandshakeTimeout}
	header := http.Header{}
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		header.Set("Cookie", cookie)
	}
	backend, resp, err := dialer.Dial(target.String(), header)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		log.Warn("backend websocket dial failed", "target", target.Host, "error", err)
		http.Error(w, "backend unavailable", status)
		return
	}

	client, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("client websocket upgrade failed", "error", err)
		_ = backend.Close()
		return
	}

	metrics.Inc(metrics.CounterRelaySessions)
	sess := &relaySession{client: client, backend: backend, log: log, backendOpen: true}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.pumpClientToBackend()
	}()
	go func() {
		defer wg.Done()
		sess.pumpBackendToClient()
	}()
	wg.Wait()

	_ = client.Close()
	_ = backend.Close()
}

// pumpClientToBackend forwards client frames verbatim. Frames arriving after
// the backend socket closed are dropped and logged, not buffered.
func (s *relaySession) pumpClientToBackend() {
	for {
		msgType, data, err := s.client.ReadMessage()
		if err != nil {
			s.closeBackend(err)
			return
		}
		s.mu.Lock()
		open := s.backendOpen
		s.mu.Unlock()
		if !open {
			s.log.Debug("dropped client frame, backend socket closed")
			continue
		}
		if err := s.backend.WriteMessage(msgType, data); err != nil {
			s.markBackendClosed()
			s.log.Warn("backend write failed", "error", err)
		}
	}
}

// pumpBackendToClient forwards backend frames, rewriting error messages in
// text frames before delivery.
func (s *relaySession) pumpBackendToClient() {
	for {
		msgType, data, err := s.backend.ReadMessage()
		if err != nil {
			s.markBackendClosed()
			s.closeClient(err)
			return
		}
		if msgType == websocket.TextMessage {
			data = rewriteFrame(data)
		}
		if err := s.client.WriteMessage(msgType, data); err != nil {
			s.closeBackend(err)
			return
		}
	}
}

func (s *relaySession) markBackendClosed() {
	s.mu.Lock()
	s.backendOpen = false
	s.mu.Unlock()
}

// closeBackend propagates a client-side termination to the backend socket,
// swallowing errors from an already-closed peer.
func (s *relaySession) closeBackend(cause error) {
	s.markBackendClosed()
	code, reason := closeCodeFrom(cause)
	deadline := time.Now().Add(closeWriteTimeout)
	_ = s.backend.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.backend.Close()
}

// closeClient propagates a backend-side termination to the client socket.
// The outgoing code is sanitized so reserved codes never reach the wire.
func (s *relaySession) closeClient(cause error) {
	code, reason := closeCodeFrom(cause)
	deadline := time.Now().Add(closeWriteTimeout)
	_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.client.Close()
}

// closeCodeFrom extracts and sanitizes the close code and reason carried by
// a read error. Non-close errors map to the generic unexpected-condition
// close.
func closeCodeFrom(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code := sanitizeCloseCode(closeErr.Code)
		if code != closeErr.Code {
			metrics.Inc(metrics.CounterRelayRewrites)
		}
		return code, sanitizeCloseReason(closeErr.Text)
	}
	return websocket.CloseInternalServerErr, ""
}

// isWebSocketRequest reports whether the request asks for a protocol upgrade.
func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// backendScheme picks the plain or TLS scheme based on the backend address.
// Service-domain addresses terminate TLS on port 443.
func backendScheme(addr, plain, secure string) string {
	if strings.HasSuffix(addr, ":443") {
		return secure
	}
	return plain
}
