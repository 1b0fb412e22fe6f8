// Package correlator matches protoo responses to the requests that asked for them.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mediabot/types/message"
)

// DefaultTimeout is how long a request waits for its response.
const DefaultTimeout = 15 * time.Second

var (
	// ErrTimeout is returned when no response arrived in time.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned once the correlator was closed.
	ErrClosed = errors.New("correlator closed")

	// ErrNotPending is returned when awaiting an id that has no pending slot.
	ErrNotPending = errors.New("request not pending")

	// ErrRejected matches every RejectedError.
	ErrRejected = errors.New("request rejected")
)

// RejectedError is a response with ok set to false.
type RejectedError struct {
	Method string
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected with %d: %s", e.Method, e.Code, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) hold.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Sender writes a frame to the control channel.
type Sender interface {
	WriteJSON(data any) error
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithFirstID makes the first issued id equal to id.
func WithFirstID(id int64) Option {
	return func(c *Correlator) {
		c.nextID.Store(id - 1)
	}
}

// Correlator issues requests and routes their responses back to the waiters.
type Correlator struct {
	sender Sender
	nextID atomic.Int64

	mu      sync.Mutex
	closed  bool
	pending map[int64]*slot
}

// slot holds at most one response until its waiter collects it.
type slot struct {
	ch       chan message.Message
	resolved bool
}

// New creates a Correlator writing requests to sender.
func New(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		pending: make(map[int64]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes a request with a fresh id and registers its pending slot.
func (c *Correlator) Send(method string, data any) (int64, error) {
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.pending[id] = &slot{ch: make(chan message.Message, 1)}
	c.mu.Unlock()

	if err := c.sender.WriteJSON(message.NewRequest(id, method, data)); err != nil {
		c.discard(id)
		return 0, fmt.Errorf("send %s: %w", method, err)
	}
	return id, nil
}

// Await blocks until the response for id arrives, the timeout elapses or ctx
// is done. The slot is released on every path.
func (c *Correlator) Await(ctx context.Context, id int64, timeout time.Duration) (message.Message, error) {
	c.mu.Lock()
	s, ok := c.pending[id]
	closed := c.closed
	c.mu.Unlock()
	if !ok && closed {
		return message.Message{}, ErrClosed
	}
	if !ok {
		return message.Message{}, fmt.Errorf("%d: %w", id, ErrNotPending)
	}
	defer c.discard(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-s.ch:
		if !ok {
			return message.Message{}, ErrClosed
		}
		return msg, nil
	case <-timer.C:
		return message.Message{}, fmt.Errorf("%d after %s: %w", id, timeout, ErrTimeout)
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

// Request sends method and waits for its response. A rejected response is
// returned as a *RejectedError.
func (c *Correlator) Request(ctx context.Context, method string, data any, timeout time.Duration) (json.RawMessage, error) {
	id, err := c.Send(method, data)
	if err != nil {
		return nil, err
	}

	res, err := c.Await(ctx, id, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if !res.OK {
		return nil, &RejectedError{Method: method, Code: res.ErrorCode, Reason: res.ErrorReason}
	}
	return res.Data, nil
}

// Resolve hands a response to its waiter. It reports false when no request
// with that id is pending, e.g. when the response arrived after a timeout.
func (c *Correlator) Resolve(msg message.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.pending[msg.ID]
	if !ok || s.resolved {
		return false
	}
	s.resolved = true
	s.ch <- msg
	return true
}

// Pending returns the number of requests waiting for a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close wakes every waiter with ErrClosed and rejects further sends.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, s := range c.pending {
		close(s.ch)
		delete(c.pending, id)
	}
}

func (c *Correlator) discard(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
