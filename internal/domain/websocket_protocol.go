package domain

import (
	"encoding/json"
	"time"
)

// Server generated event types.
const (
	EventMessageAck   = "message-ack"
	EventStatus       = "status"
	EventError        = "error"
	EventPing         = "ping"
	EventPong         = "pong"
	EventHandshake    = "handshake"
	EventMessage      = "message"
	EventNotification = "notification"
)

// Presence values carried by status events.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// MessageAckEvent confirms that a signaling frame was handed to the target connection.
type MessageAckEvent struct {
	Type         string   `json:"type"`
	OriginalType string   `json:"originalType"`
	Status       string   `json:"status"`
	To           Identity `json:"to"`
}

func NewMessageAck(originalType string, to Identity) MessageAckEvent {
	return MessageAckEvent{Type: EventMessageAck, OriginalType: originalType, Status: "delivered", To: to}
}

// StatusEvent announces a chat participant going online or offline.
type StatusEvent struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	UserID    ParticipantID   `json:"user_id"`
	UserType  ParticipantRole `json:"user_type"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewStatusEvent(status string, id ParticipantID, role ParticipantRole, at time.Time) StatusEvent {
	return StatusEvent{Type: EventStatus, Status: status, UserID: id, UserType: role, Timestamp: at.UTC()}
}

// ErrorEvent reports a rejected frame to its sender.
type ErrorEvent struct {
	Type         string          `json:"type"`
	Code         ErrorCode       `json:"code"`
	Message      string          `json:"message"`
	ReceivedData json.RawMessage `json:"received_data,omitempty"`
}

// NewErrorEvent echoes received back to the sender. Frames that are not valid
// JSON are echoed as a string.
func NewErrorEvent(code ErrorCode, message string, received []byte) ErrorEvent {
	ev := ErrorEvent{Type: EventError, Code: code, Message: message}
	if len(received) > 0 {
		if json.Valid(received) {
			ev.ReceivedData = json.RawMessage(received)
		} else {
			ev.ReceivedData, _ = json.Marshal(string(received))
		}
	}
	return ev
}

// ControlEvent is a bare ping or pong.
type ControlEvent struct {
	Type string `json:"type"`
}

func NewPing() ControlEvent { return ControlEvent{Type: EventPing} }
func NewPong() ControlEvent { return ControlEvent{Type: EventPong} }

// HandshakeEvent tells the client its connection is registered.
type HandshakeEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func NewHandshakeEvent() HandshakeEvent {
	return HandshakeEvent{Type: EventHandshake, Status: "connected"}
}

// NotificationEvent is the frame pushed to a notification client.
type NotificationEvent struct {
	Type string `json:"type"`
	Notification
}

func NewNotificationEvent(n Notification) NotificationEvent {
	return NotificationEvent{Type: EventNotification, Notification: n}
}
