// Package message provides the protoo envelope exchanged over the control channel.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an inbound frame.
type Kind int

// Frame kinds.
const (
	Unknown Kind = iota
	Request
	Response
	Notification
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// ErrMalformed is returned when a frame is not a valid protoo message.
var ErrMalformed = errors.New("malformed message")

// Message is a decoded protoo frame of any kind.
type Message struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	ID           int64           `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	OK           bool            `json:"ok,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Kind returns the kind of the message.
func (m Message) Kind() Kind {
	switch {
	case m.Request:
		return Request
	case m.Response:
		return Response
	case m.Notification:
		return Notification
	default:
		return Unknown
	}
}

// Parse decodes a text frame and checks that it carries what its kind needs.
func Parse(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m.Kind() {
	case Request:
		if m.Method == "" {
			return Message{}, fmt.Errorf("%w: request without method", ErrMalformed)
		}
	case Response:
	case Notification:
		if m.Method == "" {
			return Message{}, fmt.Errorf("%w: notification without method", ErrMalformed)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown kind", ErrMalformed)
	}
	return m, nil
}

// OutgoingRequest is a request frame sent by the client.
type OutgoingRequest struct {
	Request bool   `json:"request"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Data    any    `json:"data"`
}

// NewRequest builds a request frame. Nil data is sent as an empty object.
func NewRequest(id int64, method string, data any) OutgoingRequest {
	if data == nil {
		data = struct{}{}
	}
	return OutgoingRequest{Request: true, ID: id, Method: method, Data: data}
}

// OutgoingResponse is a response frame sent by the client.
type OutgoingResponse struct {
	Response    bool   `json:"response"`
	ID          int64  `json:"id"`
	OK          bool   `json:"ok"`
	Data        any    `json:"data,omitempty"`
	ErrorCode   int    `json:"errorCode,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// NewSuccessResponse builds a successful reply to the request with the given id.
func NewSuccessResponse(id int64, data any) OutgoingResponse {
	if data == nil {
		data = struct{}{}
	}
	return OutgoingResponse{Response: true, ID: id, OK: true, Data: data}
}

// NewErrorResponse builds a failed reply to the request with the given id.
func NewErrorResponse(id int64, code int, reason string) OutgoingResponse {
	return OutgoingResponse{Response: true, ID: id, OK: false, ErrorCode: code, ErrorReason: reason}
}

// OutgoingNotification is a notification frame. The client never sends one
// but test peers do.
type OutgoingNotification struct {
	Notification bool   `json:"notification"`
	Method       string `json:"method"`
	Data         any    `json:"data"`
}

// NewNotification builds a notification frame.
func NewNotification(method string, data any) OutgoingNotification {
	if data == nil {
		data = struct{}{}
	}
	return OutgoingNotification{Notification: true, Method: method, Data: data}
}
