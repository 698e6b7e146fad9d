package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "TELEHEALTH_RT"

// ServerConfig sets the listening ports. A zero GRPCPort disables gRPC.
type ServerConfig struct {
	HTTPPort   int    `mapstructure:"http_port"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	InstanceID string `mapstructure:"instance_id"` // Labels NATS connections and logs, e.g. the pod name
}

// NATSConfig names the subjects used for ingress and outbound events.
type NATSConfig struct {
	URL                 string `mapstructure:"url"`
	NotificationSubject string `mapstructure:"notification_subject"`
	QueueGroup          string `mapstructure:"queue_group"`
	CallEventsSubject   string `mapstructure:"call_events_subject"`
	ChatEventsPrefix    string `mapstructure:"chat_events_prefix"`
}

// RedisConfig points at the call session and presence store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds the chat message store settings.
type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LogConfig accepts debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	SecretToken string `mapstructure:"secret_token"` // API key for server-to-server endpoints, from ENV
}

// AppConfig carries process identity and WebSocket write tuning.
type AppConfig struct {
	ServiceName                     string   `mapstructure:"service_name"`
	Version                         string   `mapstructure:"version"`
	ShutdownTimeoutSeconds          int      `mapstructure:"shutdown_timeout_seconds"`
	WriteTimeoutSeconds             int      `mapstructure:"write_timeout_seconds"`
	WebsocketMessageBufferSize      int      `mapstructure:"websocket_message_buffer_size"`
	WebsocketBackpressureDropPolicy string   `mapstructure:"websocket_backpressure_drop_policy"` // drop_oldest or block
	WebsocketAllowedOrigins         []string `mapstructure:"websocket_allowed_origins"`          // Origin patterns accepted besides same-host
}

// RealtimeConfig holds the connection lifecycle tunables. Values are Go
// duration strings such as "45s".
type RealtimeConfig struct {
	HandshakeTimeout           time.Duration `mapstructure:"handshake_timeout"`
	ChatReceiveTimeout         time.Duration `mapstructure:"chat_receive_timeout"`
	NotificationReceiveTimeout time.Duration `mapstructure:"notification_receive_timeout"`
	NotificationIdleTimeout    time.Duration `mapstructure:"notification_idle_timeout"`
	CallSessionTTL             time.Duration `mapstructure:"call_session_ttl"`
	PresenceTTL                time.Duration `mapstructure:"presence_ttl"`
}

// Defaults for RealtimeConfig fields left at zero.
const (
	DefaultHandshakeTimeout           = 10 * time.Second
	DefaultChatReceiveTimeout         = 30 * time.Second
	DefaultNotificationReceiveTimeout = 45 * time.Second
	DefaultNotificationIdleTimeout    = 90 * time.Second
	DefaultCallSessionTTL             = 2 * time.Hour
)

// WithDefaults returns a copy with every zero duration replaced by its default.
func (r RealtimeConfig) WithDefaults() RealtimeConfig {
	if r.HandshakeTimeout <= 0 {
		r.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.ChatReceiveTimeout <= 0 {
		r.ChatReceiveTimeout = DefaultChatReceiveTimeout
	}
	if r.NotificationReceiveTimeout <= 0 {
		r.NotificationReceiveTimeout = DefaultNotificationReceiveTimeout
	}
	if r.NotificationIdleTimeout <= 0 {
		r.NotificationIdleTimeout = DefaultNotificationIdleTimeout
	}
	if r.CallSessionTTL <= 0 {
		r.CallSessionTTL = DefaultCallSessionTTL
	}
	if r.PresenceTTL <= 0 {
		r.PresenceTTL = r.NotificationIdleTimeout
	}
	return r
}

// Config is the root document decoded from config.yaml and the environment.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	App      AppConfig      `mapstructure:"app"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

// Provider hands out the current configuration. Callers must not keep the
// returned pointer across requests; a reload swaps it.
type Provider interface {
	Get() *Config
}

// viperProvider logs through zap directly because the domain logger is
// built from this configuration.
type viperProvider struct {
	current atomic.Pointer[Config]
	v       *viper.Viper
	logger  *zap.Logger
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.notification_subject", "telehealth.notifications.>")
	v.SetDefault("nats.queue_group", "realtime_notifications")
	v.SetDefault("nats.call_events_subject", "telehealth.calls.ended")
	v.SetDefault("nats.chat_events_prefix", "telehealth.chat")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.path", "data/chat.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.secret_token", "")
	v.SetDefault("app.service_name", "realtime-service")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 30)
	v.SetDefault("app.write_timeout_seconds", 10)
	v.SetDefault("app.websocket_message_buffer_size", 100)
	v.SetDefault("app.websocket_backpressure_drop_policy", "drop_oldest")
	v.SetDefault("app.websocket_allowed_origins", []string{})
	v.SetDefault("realtime.handshake_timeout", DefaultHandshakeTimeout)
	v.SetDefault("realtime.chat_receive_timeout", DefaultChatReceiveTimeout)
	v.SetDefault("realtime.notification_receive_timeout", DefaultNotificationReceiveTimeout)
	v.SetDefault("realtime.notification_idle_timeout", DefaultNotificationIdleTimeout)
	v.SetDefault("realtime.call_session_ttl", DefaultCallSessionTTL)
	v.SetDefault("realtime.presence_ttl", time.Duration(0))
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Realtime = cfg.Realtime.WithDefaults()
	return cfg, nil
}

// NewViperProvider reads config.yaml (VIPER_CONFIG_NAME, VIPER_CONFIG_PATH)
// and TELEHEALTH_RT_* variables, then keeps the result current on SIGHUP and
// on file changes until appCtx ends.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case errors.As(err, &notFound):
		logger.Warn("No config file found, using defaults and environment", zap.String("name", getEnv("VIPER_CONFIG_NAME", "config")))
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := load(v)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	p := &viperProvider{v: v, logger: logger}
	p.current.Store(cfg)

	go p.reloadOnSIGHUP(appCtx)
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer p.recoverReload("file_change")
			p.logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
			p.reload("file_change")
		})
		v.WatchConfig()
	}

	logger.Info("Configuration loaded", zap.String("file", v.ConfigFileUsed()), zap.String("service", cfg.App.ServiceName))
	return p, nil
}

func (p *viperProvider) reloadOnSIGHUP(ctx context.Context) {
	defer p.recoverReload("sighup")
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := p.v.ReadInConfig(); err != nil {
				p.logger.Error("SIGHUP reload could not read the config file", zap.Error(err))
				continue
			}
			p.reload("sighup")
		}
	}
}

// reload keeps the previous configuration when the new one does not decode.
func (p *viperProvider) reload(source string) {
	cfg, err := load(p.v)
	if err != nil {
		p.logger.Error("Config reload rejected", zap.String("source", source), zap.Error(err))
		return
	}
	p.current.Store(cfg)
	p.logger.Info("Config reloaded", zap.String("source", source))
}

func (p *viperProvider) recoverReload(source string) {
	if r := recover(); r != nil {
		p.logger.Error("Panic during config reload",
			zap.String("source", source),
			zap.Any("panic", r),
			zap.String("stacktrace", string(debug.Stack())),
		)
	}
}

func (p *viperProvider) Get() *Config {
	return p.current.Load()
}

// StaticProvider serves a fixed configuration.
type StaticProvider struct {
	config atomic.Pointer[Config]
}

// NewStaticProvider wraps cfg. Realtime durations left at zero take their defaults.
func NewStaticProvider(cfg *Config) *StaticProvider {
	c := *cfg
	c.Realtime = c.Realtime.WithDefaults()
	p := &StaticProvider{}
	p.config.Store(&c)
	return p
}

func (p *StaticProvider) Get() *Config { return p.config.Load() }

// Update swaps the served configuration.
func (p *StaticProvider) Update(cfg *Config) {
	c := *cfg
	c.Realtime = c.Realtime.WithDefaults()
	p.config.Store(&c)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
