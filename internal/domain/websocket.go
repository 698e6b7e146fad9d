package domain

import (
	"context"

	"github.com/coder/websocket"
)

// ManagedConnection represents an accepted WebSocket connection owned by one
// registry and the receive loop reading from it.
type ManagedConnection interface {
	// ID is unique per connection instance. Registries compare instances by it.
	ID() string

	// Close attempts to close the WebSocket connection with a specified status code and reason.
	Close(statusCode websocket.StatusCode, reason string) error

	// WriteJSON queues a JSON-encoded message for the client.
	WriteJSON(v any) error

	// ReadMessage blocks for the next data frame or until ctx is done.
	// It returns ErrReadTimeout when ctx expires, ErrPeerClosed when the peer
	// sent a close frame and ErrConnectionClosed when the transport is gone.
	// A timeout leaves the connection usable.
	ReadMessage(ctx context.Context) ([]byte, error)

	// IsAlive reports whether the connection can still carry messages.
	IsAlive() bool

	// RemoteAddr returns the remote network address string of the client.
	RemoteAddr() string

	// Context returns the context associated with this specific connection.
	// It carries request scoped logging values and is cancelled when the connection dies.
	Context() context.Context
}
