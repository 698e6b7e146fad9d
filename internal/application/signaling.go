package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
)

const (
	subsystemSignaling = "signaling"

	storeCallTimeout = 3 * time.Second
)

// SignalingRelay forwards WebRTC negotiation frames between two connected
// peers addressed by identity. Frames for peers that are not connected here
// are dropped without telling the sender.
type SignalingRelay struct {
	logger    domain.Logger
	registry  *ConnectionRegistry[domain.Identity]
	sessions  domain.CallSessionStore
	publisher domain.EventPublisher
	now       func() time.Time
}

func NewSignalingRelay(
	logger domain.Logger,
	sessions domain.CallSessionStore,
	publisher domain.EventPublisher,
) *SignalingRelay {
	return &SignalingRelay{
		logger:    logger,
		registry:  NewConnectionRegistry[domain.Identity](subsystemSignaling, logger),
		sessions:  sessions,
		publisher: publisher,
		now:       time.Now,
	}
}

// Registry exposes the relay's connections, mainly for readiness and tests.
func (s *SignalingRelay) Registry() *ConnectionRegistry[domain.Identity] {
	return s.registry
}

// Serve registers conn for id and relays its frames until the peer leaves.
// It owns conn and closes it before returning.
func (s *SignalingRelay) Serve(id domain.Identity, conn domain.ManagedConnection) {
	ctx := conn.Context()
	s.registry.Register(id, conn)
	defer func() {
		s.registry.RemoveIf(id, conn)
		if err := conn.Close(domain.StatusNormalClosure, "signaling session ended"); err != nil {
			s.logger.Debug(ctx, "Close after signaling session failed", "error", err.Error())
		}
		s.logger.Info(ctx, "Signaling connection closed", "identity", id)
	}()

	if err := conn.WriteJSON(domain.NewHandshakeEvent()); err != nil {
		s.logger.Warn(ctx, "Failed to send signaling handshake", "identity", id, "error", err.Error())
		return
	}

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrPeerClosed) && !errors.Is(err, domain.ErrConnectionClosed) {
				s.logger.Warn(ctx, "Signaling read failed", "identity", id, "error", err.Error())
			}
			return
		}
		s.HandleFrame(ctx, conn, data)
	}
}

// HandleFrame decodes one inbound frame and routes it.
func (s *SignalingRelay) HandleFrame(ctx context.Context, from domain.ManagedConnection, data []byte) {
	msg, err := domain.DecodeSignal(data)
	if err != nil {
		metrics.IncrementFramesDropped(subsystemSignaling, "invalid")
		if domain.IsProtocolViolation(err) {
			s.logger.Info(ctx, "Dropping invalid signaling frame", "error", err.Error())
		} else {
			s.logger.Warn(ctx, "Failed to decode signaling frame", "error", err.Error())
		}
		return
	}
	metrics.IncrementFramesReceived(subsystemSignaling, msg.SignalType())

	switch m := msg.(type) {
	case domain.UnrecognizedSignal:
		metrics.IncrementFramesDropped(subsystemSignaling, "unknown_type")
		s.logger.Info(ctx, "Dropping signaling frame with unknown type", "type", m.Type)
	case *domain.CallEnd:
		s.endCall(ctx, m, data)
	default:
		s.relay(ctx, from, msg, data)
	}
}

func (s *SignalingRelay) relay(ctx context.Context, from domain.ManagedConnection, msg domain.SignalMessage, data []byte) {
	sender, target := msg.Route()
	if !s.forward(ctx, target, msg.SignalType(), data) {
		return
	}

	if initiate, ok := msg.(*domain.CallInitiate); ok {
		s.startSession(ctx, initiate)
	}

	if err := from.WriteJSON(domain.NewMessageAck(msg.SignalType(), target)); err != nil {
		s.logger.Warn(ctx, "Failed to acknowledge relayed signaling frame", "sender", sender, "type", msg.SignalType(), "error", err.Error())
	}
}

// forward hands data to target's connection and reports whether it was accepted.
func (s *SignalingRelay) forward(ctx context.Context, target domain.Identity, frameType string, data []byte) bool {
	targetConn, ok := s.registry.Lookup(target)
	if !ok {
		metrics.IncrementFramesDropped(subsystemSignaling, "target_not_connected")
		s.logger.Info(ctx, "Signaling target not connected, dropping frame", "target", target, "type", frameType)
		return false
	}
	if err := targetConn.WriteJSON(json.RawMessage(data)); err != nil {
		metrics.IncrementFramesDropped(subsystemSignaling, "send_failed")
		s.logger.Warn(ctx, "Failed to forward signaling frame, dropping target", "target", target, "type", frameType, "error", err.Error())
		if s.registry.RemoveIf(target, targetConn) {
			metrics.IncrementRegistryEvictions(subsystemSignaling, "send_failed")
		}
		closeDetached(ctx, s.logger, targetConn, domain.StatusInternalError, "send failed")
		return false
	}
	metrics.IncrementFramesRelayed(subsystemSignaling, frameType)
	s.logger.Debug(ctx, "Relayed signaling frame", "target", target, "type", frameType)
	return true
}

func (s *SignalingRelay) startSession(ctx context.Context, m *domain.CallInitiate) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
	defer cancel()
	err := s.sessions.Start(storeCtx, domain.CallSession{
		CallerID:       m.SenderID,
		TargetID:       m.TargetID,
		ConsultationID: m.ConsultationID,
		StartedAt:      s.now().UTC(),
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to record call session", "caller", m.SenderID, "target", m.TargetID, "error", err.Error())
	}
}

// endCall forwards call-end without an ack, clears the markers of both
// parties and announces the ended call.
func (s *SignalingRelay) endCall(ctx context.Context, m *domain.CallEnd, data []byte) {
	s.forward(ctx, m.TargetID, m.SignalType(), data)

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
	defer cancel()
	for _, party := range []domain.Identity{m.SenderID, m.TargetID} {
		if _, err := s.sessions.End(storeCtx, party); err != nil {
			s.logger.Error(ctx, "Failed to clear call session", "party", party, "error", err.Error())
		}
	}

	event := domain.CallEnded{
		ConsultationID: m.ConsultationID,
		SenderID:       m.SenderID,
		TargetID:       m.TargetID,
		SenderRole:     m.Sender,
		Duration:       m.Duration,
		Timestamp:      m.Timestamp,
		EndedAt:        s.now().UTC(),
	}
	if err := s.publisher.PublishCallEnded(storeCtx, event); err != nil {
		s.logger.Error(ctx, "Failed to publish call ended event", "sender", m.SenderID, "target", m.TargetID, "error", err.Error())
		return
	}
	s.logger.Info(ctx, "Call ended", "sender", m.SenderID, "target", m.TargetID, "sender_role", m.Sender)
}

// Shutdown closes every signaling connection with StatusGoingAway.
func (s *SignalingRelay) Shutdown(ctx context.Context) {
	s.registry.CloseAll(ctx, domain.StatusGoingAway, "server shutting down")
}
