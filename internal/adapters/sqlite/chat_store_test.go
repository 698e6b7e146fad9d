package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
)

func openTestStore(t *testing.T) *ChatStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "chat.db"), 1)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestChatStoreSaveAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC)

	first, err := store.Save(ctx, domain.ChatMessage{
		RoomID: 42, SenderID: 1, SenderRole: domain.RoleUser,
		Body: "hello", MessageType: domain.MessageTypeText, CreatedAt: created,
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Save(ctx, domain.ChatMessage{
		RoomID: 42, SenderID: 2, SenderRole: domain.RoleDoctor,
		MessageType: domain.MessageTypeAttachment, CreatedAt: created.Add(time.Second),
		Attachments: []domain.AttachmentRef{
			{URL: "https://files/a.pdf", Name: "a.pdf", ContentType: "application/pdf", Size: 2048},
			{URL: "https://files/b.png"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, domain.ChatMessage{RoomID: 7, SenderID: 3, SenderRole: domain.RoleUser, Body: "other room", MessageType: domain.MessageTypeText, CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Fatalf("ids not increasing: %d then %d", first, second)
	}

	msgs, err := store.List(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID != first || msgs[0].Body != "hello" || !msgs[0].CreatedAt.Equal(created) || len(msgs[0].Attachments) != 0 {
		t.Fatalf("first message %+v", msgs[0])
	}
	if msgs[0].Attachments == nil {
		t.Fatal("attachments must be an empty slice, not nil")
	}
	if msgs[1].SenderRole != domain.RoleDoctor || len(msgs[1].Attachments) != 2 {
		t.Fatalf("second message %+v", msgs[1])
	}
	if msgs[1].Attachments[0].Name != "a.pdf" || msgs[1].Attachments[0].Size != 2048 || msgs[1].Attachments[1].URL != "https://files/b.png" {
		t.Fatalf("attachments out of order: %+v", msgs[1].Attachments)
	}
}

func TestChatStoreListEmptyRoom(t *testing.T) {
	store := openTestStore(t)
	msgs, err := store.List(context.Background(), 404)
	if err != nil {
		t.Fatal(err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", msgs)
	}
}

func TestChatStoreReopenKeepsMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	store, err := Open(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(context.Background(), domain.ChatMessage{RoomID: 1, SenderID: 1, SenderRole: domain.RoleUser, Body: "kept", MessageType: domain.MessageTypeText, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := Open(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if err := reopened.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, err := reopened.List(context.Background(), 1)
	if err != nil || len(msgs) != 1 || msgs[0].Body != "kept" {
		t.Fatalf("got %v, %v", msgs, err)
	}
}
