package domain

import (
	"context"
	"strings"
	"time"
)

// Chat frame types. A frame without a type is a chat message.
const (
	ChatFramePing    = "ping"
	ChatFramePong    = "pong"
	ChatFrameMessage = "message"
)

// Chat message types.
const (
	MessageTypeText       = "text"
	MessageTypeAttachment = "attachment"
)

// AttachmentRef points at a file uploaded out of band.
type AttachmentRef struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ChatMessage is a persisted chat message.
type ChatMessage struct {
	ID          int64           `json:"id"`
	RoomID      int64           `json:"consultation_id"`
	SenderID    ParticipantID   `json:"sender_id"`
	SenderRole  ParticipantRole `json:"sender_type"`
	Body        string          `json:"message"`
	Attachments []AttachmentRef `json:"attachments"`
	MessageType string          `json:"message_type"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChatStore persists chat messages for a consultation room.
type ChatStore interface {
	// Save stores msg and returns its server assigned id.
	Save(ctx context.Context, msg ChatMessage) (int64, error)
	// List returns the messages of a room ordered by creation.
	List(ctx context.Context, roomID int64) ([]ChatMessage, error)
}

// Identification is the first frame a chat client sends.
type Identification struct {
	SenderID   ParticipantID
	SenderRole ParticipantRole
}

// DecodeIdentification decodes and validates a chat identification frame.
func DecodeIdentification(data []byte) (Identification, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return Identification{}, err
	}
	if missing := env.missing([]string{"sender_id", "sender_type"}); len(missing) > 0 {
		return Identification{}, &MissingFieldsError{Type: "identification", Fields: missing}
	}
	var frame struct {
		SenderID   ParticipantID `json:"sender_id"`
		SenderType string        `json:"sender_type"`
	}
	if err := unmarshalVariant(data, &frame); err != nil {
		return Identification{}, err
	}
	role, err := ParseRole(frame.SenderType)
	if err != nil {
		return Identification{}, err
	}
	return Identification{SenderID: frame.SenderID, SenderRole: role}, nil
}

// ChatFrame is one decoded frame from a joined chat participant.
type ChatFrame interface {
	ChatFrameType() string
}

type ChatPing struct{}

func (ChatPing) ChatFrameType() string { return ChatFramePing }

type ChatPong struct{}

func (ChatPong) ChatFrameType() string { return ChatFramePong }

// ChatMessageFrame is a validated message submission.
type ChatMessageFrame struct {
	Body        string
	Attachments []AttachmentRef
	MessageType string
	SenderID    ParticipantID
	SenderRole  ParticipantRole
}

func (ChatMessageFrame) ChatFrameType() string { return ChatFrameMessage }

// UnrecognizedChatFrame carries a frame with an unknown type.
type UnrecognizedChatFrame struct {
	Type string
}

func (u UnrecognizedChatFrame) ChatFrameType() string { return u.Type }

// DecodeChatFrame decodes and validates a frame sent after identification.
func DecodeChatFrame(data []byte) (ChatFrame, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case ChatFramePing:
		return ChatPing{}, nil
	case ChatFramePong:
		return ChatPong{}, nil
	case "", ChatFrameMessage:
	default:
		return UnrecognizedChatFrame{Type: env.Type}, nil
	}

	if missing := env.missing([]string{"sender_id", "sender_type"}); len(missing) > 0 {
		return nil, &MissingFieldsError{Type: ChatFrameMessage, Fields: missing}
	}
	var frame struct {
		Message     string          `json:"message"`
		Attachments []AttachmentRef `json:"attachments"`
		MessageType string          `json:"message_type"`
		SenderID    ParticipantID   `json:"sender_id"`
		SenderType  string          `json:"sender_type"`
	}
	if err := unmarshalVariant(data, &frame); err != nil {
		return nil, err
	}
	role, err := ParseRole(frame.SenderType)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(frame.Message)
	if body == "" && len(frame.Attachments) == 0 {
		return nil, &MissingFieldsError{Type: ChatFrameMessage, Fields: []string{"message or attachments"}}
	}
	for _, a := range frame.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, &InvalidFieldError{Field: "attachments", Reason: "every attachment needs a url"}
		}
	}
	msgType := strings.ToLower(strings.TrimSpace(frame.MessageType))
	if msgType == "" {
		msgType = MessageTypeText
		if body == "" {
			msgType = MessageTypeAttachment
		}
	}
	return ChatMessageFrame{
		Body:        body,
		Attachments: frame.Attachments,
		MessageType: msgType,
		SenderID:    frame.SenderID,
		SenderRole:  role,
	}, nil
}

// ChatMessageEvent is the broadcast form of a persisted message.
type ChatMessageEvent struct {
	Type string `json:"type"`
	ChatMessage
}

// NewChatMessageEvent wraps a persisted message for broadcast.
func NewChatMessageEvent(msg ChatMessage) ChatMessageEvent {
	if msg.Attachments == nil {
		msg.Attachments = []AttachmentRef{}
	}
	return ChatMessageEvent{Type: EventMessage, ChatMessage: msg}
}
