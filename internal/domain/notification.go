package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Notification frame types.
const (
	NotificationFramePing    = "ping"
	NotificationFramePong    = "pong"
	NotificationFrameRequest = "notification"
)

var notificationRequiredFields = []string{"receiver_id", "message", "notification_type"}

// NotificationRequest asks for a notification to be delivered to ReceiverID.
// ConsultationID is passed through untouched when present.
type NotificationRequest struct {
	SenderID         Identity        `json:"sender_id,omitempty"`
	ReceiverID       Identity        `json:"receiver_id"`
	Message          string          `json:"message"`
	NotificationType string          `json:"notification_type"`
	ConsultationID   json.RawMessage `json:"consultation_id,omitempty"`
}

func (NotificationRequest) NotificationFrameType() string { return NotificationFrameRequest }

// Notification is the delivered form of a request.
type Notification struct {
	ID               string          `json:"id"`
	SenderID         Identity        `json:"sender_id,omitempty"`
	ReceiverID       Identity        `json:"receiver_id"`
	NotificationType string          `json:"notification_type"`
	Message          string          `json:"message"`
	ConsultationID   json.RawMessage `json:"consultation_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// DeliveryResult is the outcome of a dispatch.
type DeliveryResult int

const (
	// DeliveryOffline means the receiver had no live connection.
	DeliveryOffline DeliveryResult = iota
	// DeliveryDelivered means the notification was handed to the receiver's connection.
	DeliveryDelivered
	// DeliveryFailed means the send failed and the connection was dropped.
	DeliveryFailed
)

func (r DeliveryResult) String() string {
	switch r {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	default:
		return "offline"
	}
}

// NotificationDispatcher delivers notifications to connected users.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, req NotificationRequest) (Notification, DeliveryResult, error)
}

// NotificationFrame is one decoded frame from a notification client.
type NotificationFrame interface {
	NotificationFrameType() string
}

type NotificationPing struct{}

func (NotificationPing) NotificationFrameType() string { return NotificationFramePing }

type NotificationPong struct{}

func (NotificationPong) NotificationFrameType() string { return NotificationFramePong }

// UnrecognizedNotificationFrame carries a frame with an unknown type.
type UnrecognizedNotificationFrame struct {
	Type string
}

func (u UnrecognizedNotificationFrame) NotificationFrameType() string { return u.Type }

// DecodeNotificationFrame decodes a frame received on a notification channel.
func DecodeNotificationFrame(data []byte) (NotificationFrame, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case "":
		return nil, ErrMissingType
	case NotificationFramePing:
		return NotificationPing{}, nil
	case NotificationFramePong:
		return NotificationPong{}, nil
	case NotificationFrameRequest:
		return decodeNotificationRequest(env, data)
	default:
		return UnrecognizedNotificationFrame{Type: env.Type}, nil
	}
}

// DecodeNotificationRequest decodes a request submitted by another service.
// The type field is optional here.
func DecodeNotificationRequest(data []byte) (NotificationRequest, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return NotificationRequest{}, err
	}
	return decodeNotificationRequest(env, data)
}

func decodeNotificationRequest(env rawEnvelope, data []byte) (NotificationRequest, error) {
	if missing := env.missing(notificationRequiredFields); len(missing) > 0 {
		return NotificationRequest{}, &MissingFieldsError{Type: NotificationFrameRequest, Fields: missing}
	}
	var req NotificationRequest
	if err := unmarshalVariant(data, &req); err != nil {
		return NotificationRequest{}, err
	}
	if !env.has("consultation_id") {
		req.ConsultationID = nil
	}
	if req.ReceiverID == "" {
		return NotificationRequest{}, &InvalidFieldError{Field: "receiver_id", Reason: "must be non-empty"}
	}
	return req, nil
}
