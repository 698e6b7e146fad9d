package application

import (
	"context"
	"testing"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/internal/mocks"
)

const waitTimeout = 2 * time.Second

type signalingFixture struct {
	relay     *SignalingRelay
	sessions  *mocks.MockCallSessionStore
	publisher *mocks.MockEventPublisher
	logger    *mocks.MockLogger
}

func newSignalingFixture() *signalingFixture {
	f := &signalingFixture{
		sessions:  mocks.NewMockCallSessionStore(),
		publisher: mocks.NewMockEventPublisher(),
		logger:    mocks.NewMockLogger(),
	}
	f.relay = NewSignalingRelay(f.logger, f.sessions, f.publisher)
	return f
}

// connect starts Serve for id and waits for the handshake. The returned
// channel is closed when Serve returns.
func (f *signalingFixture) connect(t *testing.T, id domain.Identity) (*mocks.MockConnection, <-chan struct{}) {
	t.Helper()
	conn := mocks.NewMockConnection()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.relay.Serve(id, conn)
	}()
	if !conn.WaitForFrames(domain.EventHandshake, 1, waitTimeout) {
		t.Fatalf("no handshake for %s", id)
	}
	return conn, done
}

func TestSignalingRelaysCallInitiateAndAcknowledges(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "A")
	b, _ := f.connect(t, "B")

	a.Send(`{"type":"call-initiate","offer":"x","senderId":"A","targetId":"B","consultation_id":7}`)

	if !b.WaitForFrames(domain.SignalCallInitiate, 1, waitTimeout) {
		t.Fatal("B did not receive call-initiate")
	}
	fwd := b.FramesOfType(domain.SignalCallInitiate)[0]
	if fwd["offer"] != "x" || fwd["senderId"] != "A" || fwd["targetId"] != "B" || fwd["consultation_id"] != float64(7) {
		t.Fatalf("forwarded frame changed: %v", fwd)
	}

	if !a.WaitForFrames(domain.EventMessageAck, 1, waitTimeout) {
		t.Fatal("A did not receive message-ack")
	}
	ack := a.FramesOfType(domain.EventMessageAck)[0]
	if ack["originalType"] != domain.SignalCallInitiate || ack["status"] != "delivered" || ack["to"] != "B" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	session, ok, _ := f.sessions.Get(context.Background(), "A")
	if !ok || session.TargetID != "B" {
		t.Fatalf("call session not recorded: %+v %v", session, ok)
	}
}

func TestSignalingNumericIdentityIsCoerced(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "10")
	b, _ := f.connect(t, "20")

	a.Send(`{"type":"ice-candidate","candidate":{"sdpMid":"0"},"senderId":10,"targetId":20}`)

	if !b.WaitForFrames(domain.SignalICECandidate, 1, waitTimeout) {
		t.Fatal("numeric targetId did not route to string identity")
	}
	if !a.WaitForFrames(domain.EventMessageAck, 1, waitTimeout) {
		t.Fatal("no ack for numeric target")
	}
}

func TestSignalingRoutingMissIsSilent(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "A")

	a.Send(`{"type":"call-answer","answer":"y","senderId":"A","targetId":"ghost"}`)
	a.Send(`{"type":"ping-probe"}`)

	time.Sleep(50 * time.Millisecond)
	if got := a.FramesOfType(domain.EventMessageAck); len(got) != 0 {
		t.Fatalf("routing miss produced an ack: %v", got)
	}
	if a.CloseCode() != -1 {
		t.Fatal("routing miss closed the sender")
	}
	if _, ok := f.relay.Registry().Lookup("A"); !ok {
		t.Fatal("sender removed after routing miss")
	}
}

func TestSignalingDropsInvalidFramesAndKeepsReading(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "A")
	b, _ := f.connect(t, "B")

	a.Send(`not json`)
	a.Send(`{"type":"call-answer","senderId":"A","targetId":"B"}`)
	a.Send(`{"type":"unknown-kind","senderId":"A","targetId":"B"}`)
	a.Send(`{"type":"call-rejected","senderId":"A","targetId":"B"}`)

	if !b.WaitForFrames(domain.SignalCallRejected, 1, waitTimeout) {
		t.Fatal("valid frame after invalid ones was not relayed")
	}
	if got := b.FramesOfType(domain.SignalCallAnswer); len(got) != 0 {
		t.Fatalf("frame missing its answer was relayed: %v", got)
	}
	if got := a.FramesOfType(domain.EventError); len(got) != 0 {
		t.Fatalf("signaling replied with errors: %v", got)
	}
}

func TestSignalingSendFailureRemovesTarget(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "A")
	b, bDone := f.connect(t, "B")
	b.FailWrites(true)

	a.Send(`{"type":"call-answer","answer":"y","senderId":"A","targetId":"B"}`)

	if !b.WaitClosed(waitTimeout) {
		t.Fatal("failing target was not closed")
	}
	if b.CloseCode() != domain.StatusInternalError {
		t.Fatalf("target closed with %d", b.CloseCode())
	}
	<-bDone
	if _, ok := f.relay.Registry().Lookup("B"); ok {
		t.Fatal("failing target still registered")
	}
	if got := a.FramesOfType(domain.EventMessageAck); len(got) != 0 {
		t.Fatal("sender acked for a failed forward")
	}
}

func TestSignalingCallEndClearsBothPartiesAndPublishes(t *testing.T) {
	f := newSignalingFixture()
	a, _ := f.connect(t, "A")
	b, _ := f.connect(t, "B")

	a.Send(`{"type":"call-initiate","offer":"x","senderId":"A","targetId":"B","consultation_id":7}`)
	if !a.WaitForFrames(domain.EventMessageAck, 1, waitTimeout) {
		t.Fatal("no ack for initiate")
	}

	b.Send(`{"type":"call-end","senderId":"B","targetId":"A","sender":"doctor","consultationId":7,"duration":120,"timestamp":"2026-01-01T10:00:00Z"}`)

	if !a.WaitForFrames(domain.SignalCallEnd, 1, waitTimeout) {
		t.Fatal("call-end not forwarded")
	}
	deadline := time.Now().Add(waitTimeout)
	for len(f.publisher.CallEnded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	events := f.publisher.CallEnded()
	if len(events) != 1 {
		t.Fatalf("published %d call ended events", len(events))
	}
	if events[0].SenderID != "B" || events[0].TargetID != "A" || events[0].SenderRole != "doctor" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if _, ok, _ := f.sessions.Get(context.Background(), "A"); ok {
		t.Fatal("caller session survived a doctor-ended call")
	}
	if got := b.FramesOfType(domain.EventMessageAck); len(got) != 0 {
		t.Fatal("call-end must not be acknowledged")
	}
}

func TestSignalingTeardownRemovesOnlyOwnEntry(t *testing.T) {
	f := newSignalingFixture()
	first, firstDone := f.connect(t, "A")
	second, _ := f.connect(t, "A")

	if !first.WaitClosed(waitTimeout) || first.CloseCode() != domain.StatusSuperseded {
		t.Fatalf("first connection not superseded, code %d", first.CloseCode())
	}
	<-firstDone

	got, ok := f.relay.Registry().Lookup("A")
	if !ok || got.ID() != second.ID() {
		t.Fatal("stale teardown evicted the newer connection")
	}

	second.PeerClose()
	deadline := time.Now().Add(waitTimeout)
	for f.relay.Registry().Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if f.relay.Registry().Len() != 0 {
		t.Fatal("disconnect did not remove the identity")
	}
}
