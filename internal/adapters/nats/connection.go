package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/nats-io/nats.go"
)

// NewConnection connects to the configured NATS server. The returned cleanup
// drains the connection.
func NewConnection(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*nats.Conn, func(), error) {
	cfg := cfgProvider.Get()
	natsCfg := cfg.NATS

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-%s", cfg.App.ServiceName, cfg.Server.InstanceID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}
	appLogger.Info(ctx, "NATS connection initialised", "url", natsCfg.URL, "status", nc.Status().String())

	cleanup := func() {
		if nc.IsClosed() {
			return
		}
		appLogger.Info(context.Background(), "Draining NATS connection...")
		if err := nc.Drain(); err != nil {
			appLogger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
	return nc, cleanup, nil
}
