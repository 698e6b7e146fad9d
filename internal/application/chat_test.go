package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/internal/mocks"
)

type chatFixture struct {
	rooms     *ChatRoomBroadcaster
	store     *mocks.MockChatStore
	publisher *mocks.MockEventPublisher
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		store:     mocks.NewMockChatStore(),
		publisher: mocks.NewMockEventPublisher(),
	}
	f.rooms = NewChatRoomBroadcaster(mocks.NewMockLogger(), mocks.NewConfigProvider(), f.store, f.publisher)
	return f
}

func (f *chatFixture) serve(roomID int64) (*mocks.MockConnection, <-chan struct{}) {
	conn := mocks.NewMockConnection()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.rooms.Serve(roomID, conn)
	}()
	return conn, done
}

func (f *chatFixture) join(t *testing.T, roomID int64, id int, role string) (*mocks.MockConnection, <-chan struct{}) {
	t.Helper()
	conn, done := f.serve(roomID)
	if !conn.Send(fmt.Sprintf(`{"sender_id":%d,"sender_type":%q}`, id, role)) {
		t.Fatalf("identification for %d not read", id)
	}
	if !conn.WaitForFrames(domain.EventHandshake, 1, waitTimeout) {
		t.Fatalf("no handshake for participant %d", id)
	}
	return conn, done
}

func statusFor(conn *mocks.MockConnection, status string, userID int) []map[string]any {
	var out []map[string]any
	for _, f := range conn.FramesOfType(domain.EventStatus) {
		if f["status"] == status && f["user_id"] == float64(userID) {
			out = append(out, f)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestChatJoinAnnouncesAndBackfillsPresence(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")
	p2, _ := f.join(t, 42, 2, "Doctor")

	waitFor(t, "online for 2 at participant 1", func() bool { return len(statusFor(p1, domain.PresenceOnline, 2)) == 1 })
	online := statusFor(p1, domain.PresenceOnline, 2)[0]
	if online["user_type"] != "doctor" {
		t.Fatalf("role not normalized: %v", online["user_type"])
	}
	waitFor(t, "backfill for 1 at participant 2", func() bool { return len(statusFor(p2, domain.PresenceOnline, 1)) == 1 })
	if got := statusFor(p2, domain.PresenceOnline, 2); len(got) != 0 {
		t.Fatal("newcomer was told about itself")
	}
}

func TestChatMessageIsPersistedThenBroadcastToAll(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")
	p2, _ := f.join(t, 42, 2, "doctor")

	p1.Send(`{"message":"hi","sender_id":1,"sender_type":"user"}`)

	for i, conn := range []*mocks.MockConnection{p1, p2} {
		if !conn.WaitForFrames(domain.EventMessage, 1, waitTimeout) {
			t.Fatalf("participant %d got no message event", i+1)
		}
		msg := conn.FramesOfType(domain.EventMessage)[0]
		if msg["id"] != float64(1) || msg["message"] != "hi" || msg["consultation_id"] != float64(42) {
			t.Fatalf("participant %d got %v", i+1, msg)
		}
	}

	saved, _ := f.store.List(context.Background(), 42)
	if len(saved) != 1 {
		t.Fatalf("store has %d messages", len(saved))
	}
	if saved[0].SenderRole != domain.RoleUser || saved[0].Body != "hi" || saved[0].MessageType != domain.MessageTypeText {
		t.Fatalf("unexpected stored message %+v", saved[0])
	}
	waitFor(t, "chat message event published", func() bool { return len(f.publisher.ChatMessages()) == 1 })
}

func TestChatEmptyMessageIsRejected(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")
	p2, _ := f.join(t, 42, 2, "doctor")

	p1.Send(`{"message":"   ","attachments":[],"sender_id":1,"sender_type":"user"}`)
	p1.Send(`{"type":"ping"}`)

	if !p1.WaitForFrames(domain.EventPong, 1, waitTimeout) {
		t.Fatal("loop stopped after rejected message")
	}
	errs := p1.FramesOfType(domain.EventError)
	if len(errs) != 1 || errs[0]["code"] != string(domain.ErrValidationFailed) {
		t.Fatalf("want exactly one validation error, got %v", errs)
	}
	if errs[0]["received_data"] == nil {
		t.Fatal("error event does not echo the frame")
	}
	if saved, _ := f.store.List(context.Background(), 42); len(saved) != 0 {
		t.Fatal("invalid message was persisted")
	}
	if len(p2.FramesOfType(domain.EventMessage)) != 0 {
		t.Fatal("invalid message was broadcast")
	}
}

func TestChatPersistenceFailureBlocksBroadcast(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")
	p2, _ := f.join(t, 42, 2, "doctor")
	f.store.FailSaves(mocks.ErrStoreUnavailable)

	p1.Send(`{"message":"hi","sender_id":1,"sender_type":"user"}`)

	if !p1.WaitForFrames(domain.EventError, 1, waitTimeout) {
		t.Fatal("sender not told about the failed save")
	}
	if got := p1.FramesOfType(domain.EventError)[0]["code"]; got != string(domain.ErrPersistenceFailed) {
		t.Fatalf("error code %v", got)
	}
	if len(p1.FramesOfType(domain.EventMessage))+len(p2.FramesOfType(domain.EventMessage)) != 0 {
		t.Fatal("unsaved message was broadcast")
	}
	if len(f.publisher.ChatMessages()) != 0 {
		t.Fatal("unsaved message was published")
	}
}

func TestChatRejoinLeavesSingleParticipant(t *testing.T) {
	f := newChatFixture()
	old, oldDone := f.join(t, 42, 1, "user")
	p2, _ := f.join(t, 42, 2, "doctor")
	fresh, _ := f.join(t, 42, 1, "user")

	if !old.WaitClosed(waitTimeout) || old.CloseCode() != domain.StatusSuperseded {
		t.Fatalf("stale connection closed with %d", old.CloseCode())
	}
	<-oldDone

	members := f.rooms.Members(42)
	if len(members) != 2 {
		t.Fatalf("room has %d members, want 2", len(members))
	}
	ids := 0
	for _, m := range members {
		if m.ID == 1 {
			ids++
			if m.ConnectionID != fresh.ID() {
				t.Fatal("room kept the stale connection")
			}
		}
	}
	if ids != 1 {
		t.Fatalf("participant 1 present %d times", ids)
	}
	if got := statusFor(p2, domain.PresenceOffline, 1); len(got) != 0 {
		t.Fatal("stale teardown announced offline for a participant still present")
	}
}

func TestChatBroadcastContinuesPastFailingMember(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 7, 1, "user")
	p2, _ := f.join(t, 7, 2, "doctor")
	p3, _ := f.join(t, 7, 3, "user")
	waitFor(t, "presence settled", func() bool { return len(statusFor(p2, domain.PresenceOnline, 3)) == 1 })
	p2.FailWrites(true)

	p1.Send(`{"message":"hello","sender_id":1,"sender_type":"user"}`)

	for i, conn := range []*mocks.MockConnection{p1, p3} {
		if !conn.WaitForFrames(domain.EventMessage, 1, waitTimeout) {
			t.Fatalf("healthy member %d missed the broadcast", i)
		}
	}
	if !p2.WaitClosed(waitTimeout) || p2.CloseCode() != domain.StatusInternalError {
		t.Fatalf("failing member closed with %d", p2.CloseCode())
	}
	waitFor(t, "offline for 2", func() bool { return len(statusFor(p3, domain.PresenceOffline, 2)) == 1 })
	for _, m := range f.rooms.Members(7) {
		if m.ID == 2 {
			t.Fatal("failing member still in room")
		}
	}
	if len(f.rooms.Members(7)) != 2 {
		t.Fatalf("room has %d members", len(f.rooms.Members(7)))
	}
}

func TestChatLeaveAnnouncesOfflineAndKeepsRoom(t *testing.T) {
	f := newChatFixture()
	p1, p1Done := f.join(t, 42, 1, "user")
	p2, p2Done := f.join(t, 42, 2, "doctor")

	p2.PeerClose()
	<-p2Done
	waitFor(t, "offline for 2", func() bool { return len(statusFor(p1, domain.PresenceOffline, 2)) == 1 })
	if p2.CloseCode() != domain.StatusNormalClosure {
		t.Fatalf("leaving participant closed with %d", p2.CloseCode())
	}

	p1.PeerClose()
	<-p1Done
	if !f.rooms.RoomExists(42) {
		t.Fatal("room removed when it became empty")
	}
	if n := len(f.rooms.Members(42)); n != 0 {
		t.Fatalf("empty room reports %d members", n)
	}
}

func TestChatHandshakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		code  int
	}{
		{"malformed", `not json`, int(domain.StatusProtocolViolation)},
		{"missing sender type", `{"sender_id":1}`, int(domain.StatusProtocolViolation)},
		{"unknown role", `{"sender_id":1,"sender_type":"nurse"}`, int(domain.StatusInvalidIdentity)},
		{"non numeric id", `{"sender_id":"abc","sender_type":"user"}`, int(domain.StatusInvalidIdentity)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture()
			conn, done := f.serve(99)
			conn.Send(tt.frame)
			<-done
			if int(conn.CloseCode()) != tt.code {
				t.Fatalf("closed with %d, want %d", conn.CloseCode(), tt.code)
			}
			if f.rooms.RoomExists(99) {
				t.Fatal("room mutated before a successful handshake")
			}
		})
	}
}

func TestChatHandshakeTimeout(t *testing.T) {
	f := newChatFixture()
	conn, done := f.serve(5)

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("handshake did not time out")
	}
	if conn.CloseCode() != domain.StatusHandshakeTimeout {
		t.Fatalf("closed with %d", conn.CloseCode())
	}
}

func TestChatPingPongAndUnknownFrames(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")

	p1.Send(`{"type":"ping"}`)
	p1.Send(`{"type":"typing"}`)

	if !p1.WaitForFrames(domain.EventPong, 1, waitTimeout) {
		t.Fatal("ping not answered")
	}
	if !p1.WaitForFrames(domain.EventError, 1, waitTimeout) {
		t.Fatal("unknown frame not rejected")
	}
	if got := p1.FramesOfType(domain.EventError)[0]["code"]; got != string(domain.ErrUnsupportedMessage) {
		t.Fatalf("error code %v", got)
	}
}

func TestChatProbesIdleConnection(t *testing.T) {
	f := newChatFixture()
	p1, _ := f.join(t, 42, 1, "user")

	if !p1.WaitForFrames(domain.EventPing, 1, waitTimeout) {
		t.Fatal("no server ping after the receive timeout")
	}
	if p1.CloseCode() != -1 {
		t.Fatal("idle chat connection was closed")
	}
}

func TestChatShutdownClosesMembersWithGoingAway(t *testing.T) {
	f := newChatFixture()
	p1, done1 := f.join(t, 1, 1, "user")
	p2, done2 := f.join(t, 2, 2, "doctor")

	f.rooms.Shutdown(context.Background())
	<-done1
	<-done2

	for _, c := range []*mocks.MockConnection{p1, p2} {
		if c.CloseCode() != domain.StatusGoingAway {
			t.Fatalf("closed with %d", c.CloseCode())
		}
	}
}

func TestChatRejoinIsNotDelayedBySilentStaleConnection(t *testing.T) {
	f := newChatFixture()
	release := make(chan struct{})
	defer close(release)

	old, _ := f.join(t, 42, 1, "user")
	old.HoldClose(release)

	start := time.Now()
	f.join(t, 42, 1, "user")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("rejoin handshake took %v", elapsed)
	}
	waitFor(t, "stale close", old.CloseStarted)
	if old.CloseCode() != domain.StatusSuperseded {
		t.Fatalf("stale connection closed with %d", old.CloseCode())
	}
}

func TestChatShutdownHonoursDeadline(t *testing.T) {
	f := newChatFixture()
	release := make(chan struct{})
	defer close(release)

	silent, _ := f.join(t, 1, 1, "user")
	silent.HoldClose(release)
	other, otherDone := f.join(t, 1, 2, "doctor")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	f.rooms.Shutdown(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Shutdown took %v with a 50ms deadline", elapsed)
	}
	<-otherDone
	waitFor(t, "silent close", silent.CloseStarted)
	if other.CloseCode() != domain.StatusGoingAway || silent.CloseCode() != domain.StatusGoingAway {
		t.Fatalf("closed with %d and %d", other.CloseCode(), silent.CloseCode())
	}
}
