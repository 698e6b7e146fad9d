package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
)

const subsystemChat = "chat"

type participant struct {
	id   domain.ParticipantID
	role domain.ParticipantRole
	conn domain.ManagedConnection
}

// Participant is a read-only view of a room member.
type Participant struct {
	ID           domain.ParticipantID   `json:"user_id"`
	Role         domain.ParticipantRole `json:"user_type"`
	ConnectionID string                 `json:"-"`
}

// ChatRoomBroadcaster keeps consultation chat rooms. Messages are persisted
// before they are broadcast to every member, the sender included.
type ChatRoomBroadcaster struct {
	logger         domain.Logger
	configProvider config.Provider
	store          domain.ChatStore
	publisher      domain.EventPublisher
	now            func() time.Time

	mu    sync.Mutex
	rooms map[int64][]*participant
}

func NewChatRoomBroadcaster(
	logger domain.Logger,
	configProvider config.Provider,
	store domain.ChatStore,
	publisher domain.EventPublisher,
) *ChatRoomBroadcaster {
	return &ChatRoomBroadcaster{
		logger:         logger,
		configProvider: configProvider,
		store:          store,
		publisher:      publisher,
		now:            time.Now,
		rooms:          make(map[int64][]*participant),
	}
}

// Serve runs the identification handshake for conn and then its receive loop.
// It owns conn and closes it before returning.
func (b *ChatRoomBroadcaster) Serve(roomID int64, conn domain.ManagedConnection) {
	ctx := conn.Context()
	timeouts := b.configProvider.Get().Realtime

	ident, ok := b.handshake(ctx, roomID, conn, timeouts.HandshakeTimeout)
	if !ok {
		return
	}

	p := &participant{id: ident.SenderID, role: ident.SenderRole, conn: conn}
	b.join(ctx, roomID, p)
	defer func() {
		b.leave(ctx, roomID, p)
		conn.Close(domain.StatusNormalClosure, "left room")
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, timeouts.ChatReceiveTimeout)
		data, err := conn.ReadMessage(readCtx)
		cancel()
		switch {
		case err == nil:
			b.handleFrame(ctx, roomID, p, data)
		case errors.Is(err, domain.ErrReadTimeout):
			if err := conn.WriteJSON(domain.NewPing()); err != nil {
				b.logger.Warn(ctx, "Keepalive ping failed, closing chat connection", "room_id", roomID, "user_id", p.id, "error", err.Error())
				return
			}
		case errors.Is(err, domain.ErrPeerClosed), errors.Is(err, domain.ErrConnectionClosed):
			return
		default:
			b.logger.Warn(ctx, "Chat read failed", "room_id", roomID, "user_id", p.id, "error", err.Error())
			return
		}
	}
}

// handshake reads the identification frame. On failure conn is closed with
// the code matching the failure and ok is false.
func (b *ChatRoomBroadcaster) handshake(ctx context.Context, roomID int64, conn domain.ManagedConnection, timeout time.Duration) (domain.Identification, bool) {
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	data, err := conn.ReadMessage(hsCtx)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrReadTimeout) {
			b.logger.Info(ctx, "Chat handshake timed out", "room_id", roomID)
			conn.Close(domain.ErrHandshakeTimeout.CloseCode(), "identification timeout")
			return domain.Identification{}, false
		}
		b.logger.Info(ctx, "Chat connection lost during handshake", "room_id", roomID, "error", err.Error())
		conn.Close(domain.ErrBadRequest.CloseCode(), "identification not received")
		return domain.Identification{}, false
	}

	ident, err := domain.DecodeIdentification(data)
	if err != nil {
		var invalid *domain.InvalidFieldError
		reject := domain.ErrBadRequest
		if errors.As(err, &invalid) {
			reject = domain.ErrInvalidIdentity
		}
		b.logger.Info(ctx, "Rejecting chat identification", "room_id", roomID, "close_code", int(reject.CloseCode()), "error", err.Error())
		conn.Close(reject.CloseCode(), err.Error())
		return domain.Identification{}, false
	}
	return ident, true
}

// join replaces any stale entry for the same identity and announces the
// newcomer. The newcomer gets the handshake followed by one online event per
// member already present.
func (b *ChatRoomBroadcaster) join(ctx context.Context, roomID int64, p *participant) {
	b.mu.Lock()
	var stale *participant
	members := b.rooms[roomID]
	kept := make([]*participant, 0, len(members)+1)
	for _, m := range members {
		if m.id == p.id {
			stale = m
			continue
		}
		kept = append(kept, m)
	}
	peers := append([]*participant(nil), kept...)
	b.rooms[roomID] = append(kept, p)
	b.mu.Unlock()

	if stale != nil {
		metrics.IncrementRegistryEvictions(subsystemChat, "superseded")
		b.logger.Info(ctx, "Chat participant rejoined, closing stale connection", "room_id", roomID, "user_id", p.id, "previous_connection_id", stale.conn.ID())
		closeDetached(ctx, b.logger, stale.conn, domain.ErrSuperseded.CloseCode(), "superseded by new connection")
	} else {
		metrics.IncrementActiveConnections(subsystemChat)
	}
	b.logger.Info(ctx, "Chat participant joined", "room_id", roomID, "user_id", p.id, "user_type", p.role, "members", len(peers)+1)

	if !b.send(ctx, roomID, p, domain.NewHandshakeEvent()) {
		return
	}
	online := domain.NewStatusEvent(domain.PresenceOnline, p.id, p.role, b.now())
	for _, peer := range peers {
		b.send(ctx, roomID, peer, online)
	}
	for _, peer := range peers {
		if !b.send(ctx, roomID, p, domain.NewStatusEvent(domain.PresenceOnline, peer.id, peer.role, b.now())) {
			return
		}
	}
}

// leave removes p unless an eviction or a rejoin already did, in which case
// offline was announced there or not at all.
func (b *ChatRoomBroadcaster) leave(ctx context.Context, roomID int64, p *participant) {
	if !b.remove(roomID, p) {
		return
	}
	metrics.DecrementActiveConnections(subsystemChat)
	b.logger.Info(ctx, "Chat participant left", "room_id", roomID, "user_id", p.id)
	b.announceOffline(ctx, roomID, p)
}

func (b *ChatRoomBroadcaster) evict(ctx context.Context, roomID int64, p *participant) {
	if !b.remove(roomID, p) {
		return
	}
	metrics.DecrementActiveConnections(subsystemChat)
	metrics.IncrementRegistryEvictions(subsystemChat, "send_failed")
	b.logger.Info(ctx, "Evicting chat participant after failed send", "room_id", roomID, "user_id", p.id, "connection_id", p.conn.ID())
	closeDetached(ctx, b.logger, p.conn, domain.StatusInternalError, "send failed")
	b.announceOffline(ctx, roomID, p)
}

func (b *ChatRoomBroadcaster) announceOffline(ctx context.Context, roomID int64, p *participant) {
	b.broadcast(ctx, roomID, domain.NewStatusEvent(domain.PresenceOffline, p.id, p.role, b.now()))
}

// remove deletes exactly p from the room and reports whether it was present.
func (b *ChatRoomBroadcaster) remove(roomID int64, p *participant) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.rooms[roomID]
	for i, m := range members {
		if m == p {
			b.rooms[roomID] = append(members[:i:i], members[i+1:]...)
			return true
		}
	}
	return false
}

func (b *ChatRoomBroadcaster) snapshot(roomID int64) []*participant {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*participant(nil), b.rooms[roomID]...)
}

// send writes event to p and evicts p when the write fails.
func (b *ChatRoomBroadcaster) send(ctx context.Context, roomID int64, p *participant, event any) bool {
	if err := p.conn.WriteJSON(event); err != nil {
		b.logger.Warn(ctx, "Failed to send to chat participant", "room_id", roomID, "user_id", p.id, "error", err.Error())
		b.evict(ctx, roomID, p)
		return false
	}
	return true
}

// broadcast sends event to every current member. A failing member is evicted
// and the rest still receive the event.
func (b *ChatRoomBroadcaster) broadcast(ctx context.Context, roomID int64, event any) int {
	delivered := 0
	for _, m := range b.snapshot(roomID) {
		if b.send(ctx, roomID, m, event) {
			delivered++
		}
	}
	return delivered
}

func (b *ChatRoomBroadcaster) handleFrame(ctx context.Context, roomID int64, p *participant, data []byte) {
	frame, err := domain.DecodeChatFrame(data)
	if err != nil {
		metrics.IncrementFramesDropped(subsystemChat, "invalid")
		b.logger.Info(ctx, "Rejecting chat frame", "room_id", roomID, "user_id", p.id, "error", err.Error())
		b.send(ctx, roomID, p, domain.NewErrorEvent(frameErrorCode(err), err.Error(), data))
		return
	}
	metrics.IncrementFramesReceived(subsystemChat, frame.ChatFrameType())

	switch f := frame.(type) {
	case domain.ChatPing:
		b.send(ctx, roomID, p, domain.NewPong())
	case domain.ChatPong:
		b.logger.Debug(ctx, "Pong received", "room_id", roomID, "user_id", p.id)
	case domain.ChatMessageFrame:
		b.publishMessage(ctx, roomID, p, f, data)
	case domain.UnrecognizedChatFrame:
		metrics.IncrementFramesDropped(subsystemChat, "unknown_type")
		b.send(ctx, roomID, p, domain.NewErrorEvent(domain.ErrUnsupportedMessage, "unsupported frame type: "+f.Type, data))
	}
}

// publishMessage persists f and broadcasts the stored message. Nothing is
// broadcast when the store fails.
func (b *ChatRoomBroadcaster) publishMessage(ctx context.Context, roomID int64, p *participant, f domain.ChatMessageFrame, data []byte) {
	msg := domain.ChatMessage{
		RoomID:      roomID,
		SenderID:    f.SenderID,
		SenderRole:  f.SenderRole,
		Body:        f.Body,
		Attachments: f.Attachments,
		MessageType: f.MessageType,
		CreatedAt:   b.now().UTC(),
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
	defer cancel()
	id, err := b.store.Save(storeCtx, msg)
	if err != nil {
		metrics.IncrementChatPersistFailures()
		b.logger.Error(ctx, "Failed to persist chat message", "room_id", roomID, "sender_id", f.SenderID, "error", err.Error())
		b.send(ctx, roomID, p, domain.NewErrorEvent(domain.ErrPersistenceFailed, "message could not be saved", data))
		return
	}
	msg.ID = id
	metrics.IncrementChatMessagesPersisted()

	delivered := b.broadcast(ctx, roomID, domain.NewChatMessageEvent(msg))
	b.logger.Debug(ctx, "Chat message broadcast", "room_id", roomID, "message_id", id, "delivered", delivered)

	if err := b.publisher.PublishChatMessage(storeCtx, msg); err != nil {
		b.logger.Warn(ctx, "Failed to publish chat message event", "room_id", roomID, "message_id", id, "error", err.Error())
	}
}

// Members lists the current participants of a room in join order.
func (b *ChatRoomBroadcaster) Members(roomID int64) []Participant {
	members := b.snapshot(roomID)
	out := make([]Participant, 0, len(members))
	for _, m := range members {
		out = append(out, Participant{ID: m.id, Role: m.role, ConnectionID: m.conn.ID()})
	}
	return out
}

// RoomExists reports whether a room was ever joined, even if it is empty now.
func (b *ChatRoomBroadcaster) RoomExists(roomID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomID]
	return ok
}

// Shutdown closes every member connection concurrently with StatusGoingAway
// and stops waiting when ctx ends. Rooms are kept but emptied, so the receive
// loops exit without announcing offline.
func (b *ChatRoomBroadcaster) Shutdown(ctx context.Context) {
	b.mu.Lock()
	var all []*participant
	for roomID, members := range b.rooms {
		all = append(all, members...)
		b.rooms[roomID] = nil
	}
	b.mu.Unlock()

	conns := make([]domain.ManagedConnection, 0, len(all))
	for _, p := range all {
		metrics.DecrementActiveConnections(subsystemChat)
		conns = append(conns, p.conn)
	}
	if pending := closeConcurrently(ctx, b.logger, conns, domain.StatusGoingAway, "server shutting down"); pending > 0 {
		b.logger.Warn(ctx, "Shutdown deadline reached with chat connections still closing", "count", len(all), "pending", pending)
		return
	}
	b.logger.Info(ctx, "Chat rooms closed", "count", len(all))
}

func frameErrorCode(err error) domain.ErrorCode {
	if errors.Is(err, domain.ErrMalformedFrame) {
		return domain.ErrMalformedMessage
	}
	if errors.Is(err, domain.ErrMissingType) {
		return domain.ErrUnsupportedMessage
	}
	return domain.ErrValidationFailed
}
