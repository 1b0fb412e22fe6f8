// Package socket provides the control channel to the signaling server.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is the websocket subprotocol spoken by protoo servers.
const Subprotocol = "protoo"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

var (
	// ErrClosed is returned once the connection was closed normally by either side.
	ErrClosed = errors.New("socket closed")

	// ErrSubprotocol is returned when the server does not accept the protoo subprotocol.
	ErrSubprotocol = errors.New("server did not accept subprotocol " + Subprotocol)
)

// WebSocket wraps the gorilla/websocket connection.
type WebSocket struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// Dial opens a websocket to the signaling server with the protoo subprotocol.
func Dial(ctx context.Context, uri string, header http.Header) (*WebSocket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, uri, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", uri, err)
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", uri, ErrSubprotocol)
	}
	return &WebSocket{conn: conn}, nil
}

// Upgrade upgrades an HTTP request to a protoo websocket. Peers playing the
// server side use it.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	ug := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}

	conn, err := ug.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn}, nil
}

// Close sends a normal closure frame and closes the connection. Calling it
// again is a no-op.
func (s *WebSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	return s.conn.Close()
}

// WriteJSON sends a JSON text frame. Concurrent writers are serialized.
func (s *WebSocket) WriteJSON(data any) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage returns the next text frame. Once the connection was closed
// normally by either side it returns an error wrapping ErrClosed.
func (s *WebSocket) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		if typ != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}
