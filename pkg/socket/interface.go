// Package socket provides the control channel to the signaling server.
package socket

// Socket is a message oriented duplex connection carrying JSON text frames.
//
//go:generate mockgen -destination=mock_socket.go -package=socket . Socket
type Socket interface {
	Close() error
	WriteJSON(data any) error
	ReadMessage() ([]byte, error)
}
