// Package dispatcher reads frames from the control channel and routes them.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mediabot/pkg/socket"
	"mediabot/types/message"
	"mediabot/types/response"
)

// errorCode is the protoo error code sent when a server request fails.
const errorCode = 500

// ErrNotAccepting is replied to server requests arriving while the session
// shuts down.
var ErrNotAccepting = errors.New("session is shutting down")

// Resolver fulfils pending requests.
type Resolver interface {
	Resolve(msg message.Message) bool
}

// Handler serves server requests and notifications.
type Handler interface {
	OnNewConsumer(ctx context.Context, req response.NewConsumer) error
	OnNewDataConsumer(ctx context.Context, req response.NewDataConsumer) error
	OnPeerLeft(ctx context.Context, n response.PeerLeft)
}

// Spawner runs task in the background. It returns false if it no longer
// accepts tasks.
type Spawner func(task func()) bool

// Dispatcher is the read loop of a control channel.
type Dispatcher struct {
	conn     socket.Socket
	resolver Resolver
	handler  Handler
	spawn    Spawner
}

// New creates a Dispatcher. A nil spawner runs each server request in its
// own goroutine.
func New(conn socket.Socket, resolver Resolver, handler Handler, spawn Spawner) *Dispatcher {
	if spawn == nil {
		spawn = func(task func()) bool {
			go task()
			return true
		}
	}
	return &Dispatcher{
		conn:     conn,
		resolver: resolver,
		handler:  handler,
		spawn:    spawn,
	}
}

// Run reads frames until the channel closes. A normal closure returns nil,
// any other read failure is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		frame, err := d.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, socket.ErrClosed) {
				log.Debug().Str("module", "dispatcher").Msg("control channel closed")
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		d.dispatch(ctx, frame)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, frame []byte) {
	msg, err := message.Parse(frame)
	if err != nil {
		log.Warn().Str("module", "dispatcher").Err(err).Msg("dropping frame")
		return
	}

	switch msg.Kind() {
	case message.Response:
		if !d.resolver.Resolve(msg) {
			log.Warn().Str("module", "dispatcher").Int64("id", msg.ID).Msg("response for unknown or expired request")
		}
	case message.Request:
		d.handleRequest(ctx, msg)
	case message.Notification:
		d.handleNotification(ctx, msg)
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg message.Message) {
	var handle func(ctx context.Context) error

	switch msg.Method {
	case response.MethodNewConsumer:
		var req response.NewConsumer
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			d.reply(msg, fmt.Errorf("decode %s: %w", msg.Method, err))
			return
		}
		handle = func(ctx context.Context) error {
			return d.handler.OnNewConsumer(ctx, req)
		}
	case response.MethodNewDataConsumer:
		var req response.NewDataConsumer
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			d.reply(msg, fmt.Errorf("decode %s: %w", msg.Method, err))
			return
		}
		handle = func(ctx context.Context) error {
			return d.handler.OnNewDataConsumer(ctx, req)
		}
	default:
		log.Warn().Str("module", "dispatcher").Str("method", msg.Method).Int64("id", msg.ID).Msg("ignoring unknown server request")
		return
	}

	if !d.spawn(func() { d.reply(msg, handle(ctx)) }) {
		d.reply(msg, ErrNotAccepting)
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, msg message.Message) {
	switch msg.Method {
	case response.MethodPeerLeft:
		var n response.PeerLeft
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			log.Warn().Str("module", "dispatcher").Err(err).Msg("malformed peerLeft")
		}
		log.Info().Str("module", "dispatcher").Str("peer", n.PeerID).Msg("peer left")
		d.handler.OnPeerLeft(ctx, n)
	default:
		log.Debug().Str("module", "dispatcher").Str("method", msg.Method).RawJSON("data", rawOrEmpty(msg.Data)).Msg("notification")
	}
}

// reply answers a server request, always echoing the envelope id.
func (d *Dispatcher) reply(req message.Message, err error) {
	var res message.OutgoingResponse
	if err != nil {
		log.Error().Str("module", "dispatcher").Str("method", req.Method).Int64("id", req.ID).Err(err).Msg("server request failed")
		res = message.NewErrorResponse(req.ID, errorCode, err.Error())
	} else {
		res = message.NewSuccessResponse(req.ID, nil)
	}

	if werr := d.conn.WriteJSON(res); werr != nil {
		log.Warn().Str("module", "dispatcher").Str("method", req.Method).Int64("id", req.ID).Err(werr).Msg("failed to reply")
	}
}

func rawOrEmpty(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}
