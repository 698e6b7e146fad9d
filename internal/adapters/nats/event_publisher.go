package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
	"github.com/nats-io/nats.go"
)

// EventPublisher announces ended calls and persisted chat messages on core
// NATS subjects. Publishing is fire-and-forget.
type EventPublisher struct {
	nc             *nats.Conn
	configProvider config.Provider
	logger         domain.Logger
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

func NewEventPublisher(nc *nats.Conn, configProvider config.Provider, logger domain.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, configProvider: configProvider, logger: logger}
}

// ChatSubject is the subject persisted messages of roomID are published on.
func ChatSubject(prefix string, roomID int64) string {
	return fmt.Sprintf("%s.%d.messages", prefix, roomID)
}

func (p *EventPublisher) PublishCallEnded(ctx context.Context, event domain.CallEnded) error {
	return p.publish(ctx, "call_ended", p.configProvider.Get().NATS.CallEventsSubject, event)
}

func (p *EventPublisher) PublishChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	subject := ChatSubject(p.configProvider.Get().NATS.ChatEventsPrefix, msg.RoomID)
	return p.publish(ctx, "chat_message", subject, domain.NewChatMessageEvent(msg))
}

func (p *EventPublisher) publish(ctx context.Context, kind, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		metrics.IncrementEventsPublished(kind, "error")
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if reqID, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok && reqID != "" {
		msg.Header.Set("X-Request-ID", reqID)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		metrics.IncrementEventsPublished(kind, "error")
		return fmt.Errorf("publish %s to %s: %w", kind, subject, err)
	}
	metrics.IncrementEventsPublished(kind, "ok")
	p.logger.Debug(ctx, "Event published", "kind", kind, "subject", subject)
	return nil
}
