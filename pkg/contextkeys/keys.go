package contextkeys

// Key is the type of every context key in this package.
type Key string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey Key = "request_id"

	// EventIDKey is the context key for a NATS message or notification ID.
	EventIDKey Key = "event_id"

	// UserIDKey holds the identity a WebSocket connection was opened for.
	UserIDKey Key = "user_id"

	// RoomIDKey holds the consultation room of a chat connection.
	RoomIDKey Key = "room_id"

	// ConnectionIDKey holds the per-connection instance ID.
	ConnectionIDKey Key = "connection_id"

	// SubsystemKey names the realtime channel (signaling, chat, notifications).
	SubsystemKey Key = "subsystem"
)

// String makes Key satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c Key) String() string {
	return string(c)
}
