package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CallSession marks an active call started by CallerID.
type CallSession struct {
	CallerID       Identity        `json:"caller_id"`
	TargetID       Identity        `json:"target_id"`
	ConsultationID json.RawMessage `json:"consultation_id,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
}

// CallSessionStore keeps active call markers keyed by caller.
type CallSessionStore interface {
	// Start records a marker for session.CallerID, replacing any previous one.
	Start(ctx context.Context, session CallSession) error
	// End removes the marker for callerID. It reports whether one existed.
	End(ctx context.Context, callerID Identity) (bool, error)
	// Get returns the marker for callerID, or false if there is none.
	Get(ctx context.Context, callerID Identity) (CallSession, bool, error)
}

// PresenceRecorder publishes the last activity of notification clients so
// other services can tell whether a user is reachable.
type PresenceRecorder interface {
	Touch(ctx context.Context, id Identity, ttl time.Duration) error
	Clear(ctx context.Context, id Identity) error
}

// CallEnded is published after a call-end frame is relayed.
type CallEnded struct {
	ConsultationID json.RawMessage `json:"consultation_id"`
	SenderID       Identity        `json:"sender_id"`
	TargetID       Identity        `json:"target_id"`
	SenderRole     string          `json:"sender_role"`
	Duration       json.RawMessage `json:"duration"`
	Timestamp      json.RawMessage `json:"timestamp"`
	EndedAt        time.Time       `json:"ended_at"`
}

// EventPublisher announces realtime events to other services.
type EventPublisher interface {
	PublishCallEnded(ctx context.Context, event CallEnded) error
	PublishChatMessage(ctx context.Context, msg ChatMessage) error
}
