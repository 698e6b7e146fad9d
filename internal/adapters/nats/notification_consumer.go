package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
	"github.com/nats-io/nats.go"
)

const dispatchTimeout = 5 * time.Second

// DispatchReply answers request-style notification messages.
type DispatchReply struct {
	NotificationID string `json:"notification_id,omitempty"`
	Result         string `json:"result"`
	Error          string `json:"error,omitempty"`
}

// NotificationConsumer feeds notification requests published by other
// services into the dispatcher. The queue group spreads them over replicas;
// a replica without the receiver's connection reports it offline.
type NotificationConsumer struct {
	nc             *nats.Conn
	dispatcher     domain.NotificationDispatcher
	configProvider config.Provider
	logger         domain.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
}

func NewNotificationConsumer(
	nc *nats.Conn,
	dispatcher domain.NotificationDispatcher,
	configProvider config.Provider,
	logger domain.Logger,
) *NotificationConsumer {
	return &NotificationConsumer{
		nc:             nc,
		dispatcher:     dispatcher,
		configProvider: configProvider,
		logger:         logger,
	}
}

// Start subscribes to the configured notification subject.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription != nil {
		return fmt.Errorf("notification consumer already started")
	}

	natsCfg := c.configProvider.Get().NATS
	sub, err := c.nc.QueueSubscribe(natsCfg.NotificationSubject, natsCfg.QueueGroup, c.HandleMessage)
	if err != nil {
		c.logger.Error(ctx, "Failed to start notification consumer", "subject", natsCfg.NotificationSubject, "error", err.Error())
		return fmt.Errorf("failed to subscribe to NATS subject %s: %w", natsCfg.NotificationSubject, err)
	}
	c.subscription = sub
	c.logger.Info(ctx, "Notification consumer started", "subject", natsCfg.NotificationSubject, "queue_group", natsCfg.QueueGroup)
	return nil
}

// Stop drains the subscription so in-flight messages finish.
func (c *NotificationConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription == nil {
		return nil
	}
	err := c.subscription.Drain()
	c.subscription = nil
	if err != nil {
		c.logger.Error(context.Background(), "Error draining notification subscription", "error", err.Error())
		return err
	}
	c.logger.Info(context.Background(), "Notification consumer stopped")
	return nil
}

// HandleMessage dispatches one message. Messages with a reply subject get a
// DispatchReply back.
func (c *NotificationConsumer) HandleMessage(msg *nats.Msg) {
	metrics.IncrementNatsMessagesReceived(msg.Subject)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, contextkeys.SubsystemKey, "nats")
	if msg.Header != nil {
		if reqID := msg.Header.Get("X-Request-ID"); reqID != "" {
			ctx = context.WithValue(ctx, contextkeys.RequestIDKey, reqID)
		}
		if eventID := msg.Header.Get(nats.MsgIdHdr); eventID != "" {
			ctx = context.WithValue(ctx, contextkeys.EventIDKey, eventID)
		}
	}

	req, err := domain.DecodeNotificationRequest(msg.Data)
	if err != nil {
		c.logger.Warn(ctx, "Discarding invalid notification request", "subject", msg.Subject, "error", err.Error())
		c.respond(ctx, msg, DispatchReply{Result: domain.DeliveryFailed.String(), Error: err.Error()})
		return
	}

	n, result, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		c.logger.Warn(ctx, "Notification dispatch rejected", "subject", msg.Subject, "error", err.Error())
		c.respond(ctx, msg, DispatchReply{Result: result.String(), Error: err.Error()})
		return
	}
	c.logger.Debug(ctx, "Notification dispatched from NATS", "subject", msg.Subject, "notification_id", n.ID, "result", result.String())
	c.respond(ctx, msg, DispatchReply{NotificationID: n.ID, Result: result.String()})
}

func (c *NotificationConsumer) respond(ctx context.Context, msg *nats.Msg, reply DispatchReply) {
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(payload); err != nil {
		c.logger.Warn(ctx, "Failed to answer notification request", "reply", msg.Reply, "error", err.Error())
	}
}
