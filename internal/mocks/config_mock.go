package mocks

import (
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
)

// NewTestConfig returns a configuration with short realtime timeouts. Tests
// change fields before wrapping it with config.NewStaticProvider.
func NewTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{InstanceID: "test-instance"},
		NATS: config.NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			NotificationSubject: "telehealth.notifications.>",
			QueueGroup:          "realtime_notifications",
			CallEventsSubject:   "telehealth.calls.ended",
			ChatEventsPrefix:    "telehealth.chat",
		},
		Database: config.DatabaseConfig{MaxOpenConns: 1},
		Log:      config.LogConfig{Level: "error"},
		Auth:     config.AuthConfig{SecretToken: "test-secret-token"},
		App: config.AppConfig{
			ServiceName:                     "realtime-service-test",
			Version:                         "test",
			ShutdownTimeoutSeconds:          1,
			WriteTimeoutSeconds:             1,
			WebsocketMessageBufferSize:      16,
			WebsocketBackpressureDropPolicy: "drop_oldest",
		},
		Realtime: config.RealtimeConfig{
			HandshakeTimeout:           200 * time.Millisecond,
			ChatReceiveTimeout:         200 * time.Millisecond,
			NotificationReceiveTimeout: 100 * time.Millisecond,
			NotificationIdleTimeout:    300 * time.Millisecond,
			CallSessionTTL:             time.Minute,
		},
	}
}

// NewConfigProvider wraps NewTestConfig after applying edits.
func NewConfigProvider(edits ...func(*config.Config)) *config.StaticProvider {
	cfg := NewTestConfig()
	for _, edit := range edits {
		edit(cfg)
	}
	return config.NewStaticProvider(cfg)
}
