package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeIdentification(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantID   ParticipantID
		wantRole ParticipantRole
		invalid  bool
		missing  bool
	}{
		{name: "numeric id", frame: `{"sender_id":1,"sender_type":"user"}`, wantID: 1, wantRole: RoleUser},
		{name: "string id and mixed case role", frame: `{"sender_id":" 12 ","sender_type":" Doctor "}`, wantID: 12, wantRole: RoleDoctor},
		{name: "missing role", frame: `{"sender_id":1}`, missing: true},
		{name: "empty role", frame: `{"sender_id":1,"sender_type":""}`, missing: true},
		{name: "unknown role", frame: `{"sender_id":1,"sender_type":"admin"}`, invalid: true},
		{name: "non numeric id", frame: `{"sender_id":"x1","sender_type":"user"}`, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := DecodeIdentification([]byte(tt.frame))
			var missing *MissingFieldsError
			var invalid *InvalidFieldError
			switch {
			case tt.missing:
				if !errors.As(err, &missing) {
					t.Fatalf("want MissingFieldsError, got %v", err)
				}
			case tt.invalid:
				if !errors.As(err, &invalid) {
					t.Fatalf("want InvalidFieldError, got %v", err)
				}
			default:
				if err != nil {
					t.Fatal(err)
				}
				if ident.SenderID != tt.wantID || ident.SenderRole != tt.wantRole {
					t.Fatalf("got %+v", ident)
				}
			}
		})
	}
}

func TestDecodeChatFrame(t *testing.T) {
	t.Run("control frames", func(t *testing.T) {
		for frame, want := range map[string]string{`{"type":"ping"}`: ChatFramePing, `{"type":"pong"}`: ChatFramePong, `{"type":"typing"}`: "typing"} {
			f, err := DecodeChatFrame([]byte(frame))
			if err != nil || f.ChatFrameType() != want {
				t.Fatalf("%s decoded to %v, %v", frame, f, err)
			}
		}
	})

	t.Run("untyped message", func(t *testing.T) {
		f, err := DecodeChatFrame([]byte(`{"message":" hi ","sender_id":"3","sender_type":"USER"}`))
		if err != nil {
			t.Fatal(err)
		}
		msg := f.(ChatMessageFrame)
		if msg.Body != "hi" || msg.SenderID != 3 || msg.SenderRole != RoleUser || msg.MessageType != MessageTypeText {
			t.Fatalf("got %+v", msg)
		}
	})

	t.Run("attachment only", func(t *testing.T) {
		f, err := DecodeChatFrame([]byte(`{"type":"message","attachments":[{"url":"https://files/x.png","name":"x.png"}],"sender_id":3,"sender_type":"doctor"}`))
		if err != nil {
			t.Fatal(err)
		}
		msg := f.(ChatMessageFrame)
		if msg.MessageType != MessageTypeAttachment || len(msg.Attachments) != 1 {
			t.Fatalf("got %+v", msg)
		}
	})

	t.Run("empty body and attachments", func(t *testing.T) {
		_, err := DecodeChatFrame([]byte(`{"message":"","attachments":[],"sender_id":3,"sender_type":"doctor"}`))
		var missing *MissingFieldsError
		if !errors.As(err, &missing) {
			t.Fatalf("want MissingFieldsError, got %v", err)
		}
	})

	t.Run("attachment without url", func(t *testing.T) {
		_, err := DecodeChatFrame([]byte(`{"attachments":[{"name":"x"}],"sender_id":3,"sender_type":"doctor"}`))
		var invalid *InvalidFieldError
		if !errors.As(err, &invalid) {
			t.Fatalf("want InvalidFieldError, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := DecodeChatFrame([]byte(`hello`)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("want ErrMalformedFrame, got %v", err)
		}
	})
}

func TestChatMessageEventNeverHasNullAttachments(t *testing.T) {
	data, err := json.Marshal(NewChatMessageEvent(ChatMessage{ID: 1, RoomID: 42, Body: "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != EventMessage {
		t.Fatalf("type = %v", decoded["type"])
	}
	if _, ok := decoded["attachments"].([]any); !ok {
		t.Fatalf("attachments = %v", decoded["attachments"])
	}
}
