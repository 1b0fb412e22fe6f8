// Package protootest runs an in-process protoo peer that plays the signaling
// server in tests.
package protootest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"mediabot/pkg/socket"
	"mediabot/types/message"
)

// ErrNoReply makes the server leave a request unanswered.
var ErrNoReply = errors.New("no reply")

// ErrNotConnected is returned when pushing to a server without a client.
var ErrNotConnected = errors.New("no client connected")

// Rejection is a handler error replied with its own code.
type Rejection struct {
	Code   int
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%d: %s", r.Code, r.Reason)
}

// Handler answers a client request. The returned value becomes the response
// data. A *Rejection or any other error becomes an error response, ErrNoReply
// sends nothing.
type Handler func(data json.RawMessage) (any, error)

// Server accepts one protoo client at a time.
type Server struct {
	srv       *httptest.Server
	nextID    atomic.Int64
	responses chan message.Message
	connected chan struct{}
	once      sync.Once

	mu       sync.Mutex
	handlers map[string]Handler
	received []message.Message
	peer     *socket.WebSocket
}

// NewServer starts a server answering unknown methods with an empty object.
func NewServer() *Server {
	s := &Server{
		handlers:  make(map[string]Handler),
		responses: make(chan message.Message, 64),
		connected: make(chan struct{}),
	}
	s.nextID.Store(1000)
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Handle registers the handler for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Reply registers a handler that always answers with data.
func (s *Server) Reply(method string, data any) {
	s.Handle(method, func(json.RawMessage) (any, error) {
		return data, nil
	})
}

// Received returns the requests the client sent, in arrival order.
func (s *Server) Received() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.received))
	copy(out, s.received)
	return out
}

// Count returns how many requests for method arrived.
func (s *Server) Count(method string) int {
	n := 0
	for _, m := range s.Received() {
		if m.Method == method {
			n++
		}
	}
	return n
}

// Connected is closed once the first client connected.
func (s *Server) Connected() <-chan struct{} {
	return s.connected
}

// Responses delivers the client's replies to server requests.
func (s *Server) Responses() <-chan message.Message {
	return s.responses
}

// Request sends a server request and returns its id.
func (s *Server) Request(method string, data any) (int64, error) {
	id := s.nextID.Add(1)
	return id, s.write(message.NewRequest(id, method, data))
}

// RequestWithID sends a server request with a caller chosen id.
func (s *Server) RequestWithID(id int64, method string, data any) error {
	return s.write(message.NewRequest(id, method, data))
}

// Notify sends a notification.
func (s *Server) Notify(method string, data any) error {
	return s.write(message.NewNotification(method, data))
}

// Disconnect drops the current client.
func (s *Server) Disconnect() error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}
	return peer.Close()
}

// Close drops the client and stops the server.
func (s *Server) Close() {
	_ = s.Disconnect()
	s.srv.Close()
}

func (s *Server) write(frame any) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}
	return peer.WriteJSON(frame)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	peer, err := socket.Upgrade(w, r)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
	s.once.Do(func() { close(s.connected) })
	defer func() { _ = peer.Close() }()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		frame, err := peer.ReadMessage()
		if err != nil {
			return
		}
		msg, err := message.Parse(frame)
		if err != nil {
			continue
		}

		switch msg.Kind() {
		case message.Request:
			s.mu.Lock()
			s.received = append(s.received, msg)
			h, ok := s.handlers[msg.Method]
			s.mu.Unlock()
			if !ok {
				h = func(json.RawMessage) (any, error) { return nil, nil }
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.answer(peer, msg, h)
			}()
		case message.Response:
			select {
			case s.responses <- msg:
			default:
			}
		}
	}
}

func (s *Server) answer(peer *socket.WebSocket, msg message.Message, h Handler) {
	data, err := h(msg.Data)
	var rejection *Rejection
	switch {
	case errors.Is(err, ErrNoReply):
		return
	case errors.As(err, &rejection):
		_ = peer.WriteJSON(message.NewErrorResponse(msg.ID, rejection.Code, rejection.Reason))
	case err != nil:
		_ = peer.WriteJSON(message.NewErrorResponse(msg.ID, 500, err.Error()))
	default:
		_ = peer.WriteJSON(message.NewSuccessResponse(msg.ID, data))
	}
}

// WaitResponse returns the next client reply or ctx's error.
func (s *Server) WaitResponse(ctx context.Context) (message.Message, error) {
	select {
	case msg := <-s.responses:
		return msg, nil
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}
