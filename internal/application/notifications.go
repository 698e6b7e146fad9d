package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

const subsystemNotifications = "notifications"

// NotificationService keeps one notification channel per user and delivers
// notifications to it best-effort. Offline users are not queued for.
type NotificationService struct {
	logger         domain.Logger
	configProvider config.Provider
	registry       *ConnectionRegistry[domain.Identity]
	presence       domain.PresenceRecorder
	now            func() time.Time
}

var _ domain.NotificationDispatcher = (*NotificationService)(nil)

func NewNotificationService(
	logger domain.Logger,
	configProvider config.Provider,
	presence domain.PresenceRecorder,
) *NotificationService {
	return &NotificationService{
		logger:         logger,
		configProvider: configProvider,
		registry:       NewConnectionRegistry[domain.Identity](subsystemNotifications, logger),
		presence:       presence,
		now:            time.Now,
	}
}

func (s *NotificationService) Registry() *ConnectionRegistry[domain.Identity] {
	return s.registry
}

// Serve registers conn for id, superseding any earlier channel, and runs the
// receive loop with idle tracking. It owns conn and closes it before returning.
func (s *NotificationService) Serve(id domain.Identity, conn domain.ManagedConnection) {
	ctx := conn.Context()
	timeouts := s.configProvider.Get().Realtime

	s.registry.Register(id, conn)
	defer func() {
		if s.registry.RemoveIf(id, conn) {
			s.clearPresence(ctx, id)
		}
		conn.Close(domain.StatusNormalClosure, "notification channel closed")
		s.logger.Info(ctx, "Notification connection closed", "identity", id)
	}()
	s.touchPresence(ctx, id, timeouts.PresenceTTL)

	if err := conn.WriteJSON(domain.NewHandshakeEvent()); err != nil {
		s.logger.Warn(ctx, "Failed to send notification handshake", "identity", id, "error", err.Error())
		return
	}

	lastActive := s.now()
	for {
		idleFor := s.now().Sub(lastActive)
		wait := timeouts.NotificationReceiveTimeout
		if remaining := timeouts.NotificationIdleTimeout - idleFor; remaining < wait {
			wait = remaining
		}

		readCtx, cancel := context.WithTimeout(ctx, wait)
		data, err := conn.ReadMessage(readCtx)
		cancel()

		switch {
		case err == nil:
			lastActive = s.now()
			s.touchPresence(ctx, id, timeouts.PresenceTTL)
			s.handleFrame(ctx, id, conn, data)
		case errors.Is(err, domain.ErrReadTimeout):
			if s.now().Sub(lastActive) >= timeouts.NotificationIdleTimeout {
				metrics.IncrementRegistryEvictions(subsystemNotifications, "idle_timeout")
				s.logger.Info(ctx, "Notification connection idle, closing", "identity", id, "idle_for", s.now().Sub(lastActive).String())
				conn.Close(domain.ErrIdleTimeout.CloseCode(), "idle timeout")
				return
			}
			if err := conn.WriteJSON(domain.NewPing()); err != nil {
				s.logger.Warn(ctx, "Keepalive ping failed, closing notification connection", "identity", id, "error", err.Error())
				return
			}
		case errors.Is(err, domain.ErrPeerClosed), errors.Is(err, domain.ErrConnectionClosed):
			return
		default:
			s.logger.Warn(ctx, "Notification read failed", "identity", id, "error", err.Error())
			return
		}
	}
}

func (s *NotificationService) handleFrame(ctx context.Context, id domain.Identity, conn domain.ManagedConnection, data []byte) {
	frame, err := domain.DecodeNotificationFrame(data)
	if err != nil {
		metrics.IncrementFramesDropped(subsystemNotifications, "invalid")
		s.logger.Info(ctx, "Rejecting notification frame", "identity", id, "error", err.Error())
		s.reply(ctx, id, conn, domain.NewErrorEvent(frameErrorCode(err), err.Error(), data))
		return
	}
	metrics.IncrementFramesReceived(subsystemNotifications, frame.NotificationFrameType())

	switch f := frame.(type) {
	case domain.NotificationPing:
		s.reply(ctx, id, conn, domain.NewPong())
	case domain.NotificationPong:
	case domain.NotificationRequest:
		f.SenderID = id
		if _, _, err := s.Dispatch(ctx, f); err != nil {
			s.reply(ctx, id, conn, domain.NewErrorEvent(domain.ErrValidationFailed, err.Error(), data))
		}
	case domain.UnrecognizedNotificationFrame:
		metrics.IncrementFramesDropped(subsystemNotifications, "unknown_type")
		s.reply(ctx, id, conn, domain.NewErrorEvent(domain.ErrUnsupportedMessage, "unsupported frame type: "+f.Type, data))
	}
}

func (s *NotificationService) reply(ctx context.Context, id domain.Identity, conn domain.ManagedConnection, event any) {
	if err := conn.WriteJSON(event); err != nil {
		s.logger.Warn(ctx, "Failed to reply on notification connection", "identity", id, "error", err.Error())
	}
}

// Dispatch delivers req to the receiver's live connection. A dead or failing
// connection is dropped from the registry.
func (s *NotificationService) Dispatch(ctx context.Context, req domain.NotificationRequest) (domain.Notification, domain.DeliveryResult, error) {
	if req.ReceiverID == "" {
		return domain.Notification{}, domain.DeliveryFailed, &domain.InvalidFieldError{Field: "receiver_id", Reason: "must be non-empty"}
	}
	n := domain.Notification{
		ID:               uuid.NewString(),
		SenderID:         req.SenderID,
		ReceiverID:       req.ReceiverID,
		NotificationType: req.NotificationType,
		Message:          req.Message,
		ConsultationID:   req.ConsultationID,
		Timestamp:        s.now().UTC(),
	}
	source := dispatchSource(ctx)

	conn, ok := s.registry.Lookup(req.ReceiverID)
	if !ok {
		metrics.IncrementNotifications(source, domain.DeliveryOffline.String())
		s.logger.Info(ctx, "Notification receiver offline, dropping", "receiver_id", req.ReceiverID, "notification_id", n.ID)
		return n, domain.DeliveryOffline, nil
	}
	if !conn.IsAlive() {
		s.drop(ctx, req.ReceiverID, conn, "connection not alive")
		metrics.IncrementNotifications(source, domain.DeliveryOffline.String())
		return n, domain.DeliveryOffline, nil
	}
	if err := conn.WriteJSON(domain.NewNotificationEvent(n)); err != nil {
		s.logger.Warn(ctx, "Failed to deliver notification", "receiver_id", req.ReceiverID, "notification_id", n.ID, "error", err.Error())
		s.drop(ctx, req.ReceiverID, conn, "send failed")
		metrics.IncrementNotifications(source, domain.DeliveryFailed.String())
		return n, domain.DeliveryFailed, nil
	}

	metrics.IncrementNotifications(source, domain.DeliveryDelivered.String())
	s.logger.Debug(ctx, "Notification delivered", "receiver_id", req.ReceiverID, "notification_id", n.ID, "type", n.NotificationType)
	return n, domain.DeliveryDelivered, nil
}

func (s *NotificationService) drop(ctx context.Context, id domain.Identity, conn domain.ManagedConnection, reason string) {
	if s.registry.RemoveIf(id, conn) {
		metrics.IncrementRegistryEvictions(subsystemNotifications, "send_failed")
		s.clearPresence(ctx, id)
	}
	closeDetached(ctx, s.logger, conn, domain.StatusInternalError, reason)
}

func (s *NotificationService) touchPresence(ctx context.Context, id domain.Identity, ttl time.Duration) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
	defer cancel()
	if err := s.presence.Touch(pctx, id, ttl); err != nil {
		s.logger.Warn(ctx, "Failed to refresh notification presence", "identity", id, "error", err.Error())
	}
}

func (s *NotificationService) clearPresence(ctx context.Context, id domain.Identity) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeCallTimeout)
	defer cancel()
	if err := s.presence.Clear(pctx, id); err != nil {
		s.logger.Warn(ctx, "Failed to clear notification presence", "identity", id, "error", err.Error())
	}
}

// Shutdown closes every notification channel with StatusGoingAway.
func (s *NotificationService) Shutdown(ctx context.Context) {
	s.registry.CloseAll(ctx, domain.StatusGoingAway, "server shutting down")
}

// dispatchSource labels metrics with the ingress that asked for a dispatch.
func dispatchSource(ctx context.Context) string {
	if v, ok := ctx.Value(contextkeys.SubsystemKey).(string); ok && v != "" {
		return v
	}
	return "internal"
}
