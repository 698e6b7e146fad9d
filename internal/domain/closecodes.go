package domain

import "github.com/coder/websocket"

// WebSocket close codes sent by the service. Application codes live in the
// 4000-4999 private range and mirror the closest HTTP status.
const (
	StatusNormalClosure = websocket.StatusNormalClosure // 1000
	StatusGoingAway     = websocket.StatusGoingAway     // 1001, server shutdown
	StatusInternalError = websocket.StatusInternalError // 1011

	// StatusProtocolViolation closes a connection whose identification frame
	// is malformed or lacks required fields.
	StatusProtocolViolation websocket.StatusCode = 4400
	// StatusSuperseded closes a connection replaced by a newer one for the
	// same identity.
	StatusSuperseded websocket.StatusCode = 4402
	// StatusHandshakeTimeout closes a connection that did not identify itself
	// within the handshake timeout.
	StatusHandshakeTimeout websocket.StatusCode = 4408
	// StatusIdleTimeout closes a notification channel that stayed silent past
	// the idle ceiling.
	StatusIdleTimeout websocket.StatusCode = 4410
	// StatusInvalidIdentity closes a connection whose identification frame
	// carries unusable values.
	StatusInvalidIdentity websocket.StatusCode = 4422
)
