package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/wire"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	appgrpc "github.com/mindcare/realtime-service/internal/adapters/grpc"
	"github.com/mindcare/realtime-service/internal/adapters/logger"
	"github.com/mindcare/realtime-service/internal/adapters/middleware"
	appnats "github.com/mindcare/realtime-service/internal/adapters/nats"
	appredis "github.com/mindcare/realtime-service/internal/adapters/redis"
	"github.com/mindcare/realtime-service/internal/adapters/sqlite"
	wsadapter "github.com/mindcare/realtime-service/internal/adapters/websocket"
	"github.com/mindcare/realtime-service/internal/application"
	"github.com/mindcare/realtime-service/internal/domain"
)

// APIKeyMiddleware guards the server-to-server HTTP routes.
type APIKeyMiddleware func(http.Handler) http.Handler

// InitialZapLoggerProvider builds the JSON logger used until the configured
// one exists. Config loading is its only user.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	bootLogger, err := zap.NewProduction(zap.Fields(zap.String("phase", "bootstrap")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap logger unavailable, logging to stdout without levels: %v\n", err)
		bootLogger = zap.NewExample()
	}
	return bootLogger, func() { _ = bootLogger.Sync() }, nil
}

// App holds the wired application. Its methods live in app.go.
type App struct {
	configProvider   config.Provider
	logger           domain.Logger
	httpServeMux     *http.ServeMux
	httpServer       *http.Server
	grpcServer       *appgrpc.Server
	wsRouter         *wsadapter.Router
	apiKeyMiddleware APIKeyMiddleware
	signaling        *application.SignalingRelay
	chat             *application.ChatRoomBroadcaster
	notifications    *application.NotificationService
	consumer         *appnats.NotificationConsumer
	chatStore        *sqlite.ChatStore
	presence         *appredis.PresenceAdapter
	redisClient      *redis.Client
	natsConn         *nats.Conn
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	grpcSrv *appgrpc.Server,
	wsRouter *wsadapter.Router,
	apiKeyMiddleware APIKeyMiddleware,
	signaling *application.SignalingRelay,
	chat *application.ChatRoomBroadcaster,
	notifications *application.NotificationService,
	consumer *appnats.NotificationConsumer,
	chatStore *sqlite.ChatStore,
	presence *appredis.PresenceAdapter,
	redisClient *redis.Client,
	natsConn *nats.Conn,
) (*App, func(), error) {
	app := &App{
		configProvider:   cfgProvider,
		logger:           appLogger,
		httpServeMux:     mux,
		httpServer:       server,
		grpcServer:       grpcSrv,
		wsRouter:         wsRouter,
		apiKeyMiddleware: apiKeyMiddleware,
		signaling:        signaling,
		chat:             chat,
		notifications:    notifications,
		consumer:         consumer,
		chatStore:        chatStore,
		presence:         presence,
		redisClient:      redisClient,
		natsConn:         natsConn,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Releasing ingress before infrastructure")
		if err := app.consumer.Stop(); err != nil {
			app.logger.Warn(context.Background(), "Notification consumer stop during cleanup failed", "error", err.Error())
		}
		app.grpcServer.GracefulStop()
		if err := app.logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync application logger: %v\n", err)
		}
	}
	return app, cleanup, nil
}

// ConfigProvider loads config.yaml and the environment. appCtx bounds the
// SIGHUP reload goroutine.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

const (
	httpReadTimeout = 10 * time.Second
	httpIdleTimeout = time.Minute
)

// HTTPGracefulServerProvider serves mux on server.http_port. Upgraded
// WebSocket connections are hijacked and escape these timeouts.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	cfg := cfgProvider.Get()
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.HTTPPort)),
		Handler:           mux,
		ReadHeaderTimeout: httpReadTimeout,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       httpIdleTimeout,
	}
	if secs := cfg.App.WriteTimeoutSeconds; secs > 0 {
		srv.WriteTimeout = time.Duration(secs) * time.Second
	}
	return srv
}

// APIKeyMiddlewareProvider provides the middleware for /internal routes.
func APIKeyMiddlewareProvider(cfgProvider config.Provider, logger domain.Logger) APIKeyMiddleware {
	return middleware.APIKeyAuthMiddleware(cfgProvider, logger)
}

// RedisClientProvider fails startup when Redis does not answer a PING.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	redisCfg := cfgProvider.Get().Redis
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		appLogger.Error(pingCtx, "Redis unreachable", "address", redisCfg.Address, "error", err.Error())
		return nil, nil, fmt.Errorf("ping redis at %s: %w", redisCfg.Address, err)
	}
	appLogger.Info(pingCtx, "Redis ready", "address", redisCfg.Address, "db", redisCfg.DB)

	return client, func() {
		if err := client.Close(); err != nil {
			appLogger.Warn(context.Background(), "Closing Redis client failed", "error", err.Error())
		}
	}, nil
}

func CallSessionStoreProvider(redisClient *redis.Client, cfgProvider config.Provider, logger domain.Logger) domain.CallSessionStore {
	return appredis.NewCallSessionStoreAdapter(redisClient, cfgProvider, logger)
}

func PresenceAdapterProvider(redisClient *redis.Client, logger domain.Logger) *appredis.PresenceAdapter {
	return appredis.NewPresenceAdapter(redisClient, logger)
}

// NatsConnectionProvider connects to NATS. The cleanup drains the connection.
func NatsConnectionProvider(ctx context.Context, cfgProvider config.Provider, logger domain.Logger) (*nats.Conn, func(), error) {
	return appnats.NewConnection(ctx, cfgProvider, logger)
}

func EventPublisherProvider(nc *nats.Conn, cfgProvider config.Provider, logger domain.Logger) domain.EventPublisher {
	return appnats.NewEventPublisher(nc, cfgProvider, logger)
}

// ChatStoreProvider opens the SQLite message store.
func ChatStoreProvider(cfgProvider config.Provider, logger domain.Logger) (*sqlite.ChatStore, func(), error) {
	store, err := sqlite.NewChatStore(cfgProvider)
	if err != nil {
		logger.Error(context.Background(), "Failed to open chat store", "path", cfgProvider.Get().Database.Path, "error", err.Error())
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn(context.Background(), "Failed to close chat store", "error", err.Error())
			return
		}
		logger.Info(context.Background(), "Chat store closed")
	}
	logger.Info(context.Background(), "Chat store opened", "path", cfgProvider.Get().Database.Path)
	return store, cleanup, nil
}

func SignalingRelayProvider(logger domain.Logger, sessions domain.CallSessionStore, publisher domain.EventPublisher) *application.SignalingRelay {
	return application.NewSignalingRelay(logger, sessions, publisher)
}

func ChatRoomBroadcasterProvider(logger domain.Logger, cfgProvider config.Provider, store *sqlite.ChatStore, publisher domain.EventPublisher) *application.ChatRoomBroadcaster {
	return application.NewChatRoomBroadcaster(logger, cfgProvider, store, publisher)
}

func NotificationServiceProvider(logger domain.Logger, cfgProvider config.Provider, presence *appredis.PresenceAdapter) *application.NotificationService {
	return application.NewNotificationService(logger, cfgProvider, presence)
}

func NotificationConsumerProvider(nc *nats.Conn, dispatcher *application.NotificationService, cfgProvider config.Provider, logger domain.Logger) *appnats.NotificationConsumer {
	return appnats.NewNotificationConsumer(nc, dispatcher, cfgProvider, logger)
}

func WebsocketHandlerProvider(
	logger domain.Logger,
	cfgProvider config.Provider,
	signaling *application.SignalingRelay,
	chat *application.ChatRoomBroadcaster,
	notifications *application.NotificationService,
) *wsadapter.Handler {
	return wsadapter.NewHandler(logger, cfgProvider, signaling, chat, notifications)
}

func WebsocketRouterProvider(logger domain.Logger, handler *wsadapter.Handler) *wsadapter.Router {
	return wsadapter.NewRouter(logger, handler)
}

func GRPCNotificationHandlerProvider(dispatcher *application.NotificationService, logger domain.Logger) *appgrpc.NotificationHandler {
	return appgrpc.NewNotificationHandler(dispatcher, logger)
}

func GRPCServerProvider(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider, handler *appgrpc.NotificationHandler) (*appgrpc.Server, error) {
	return appgrpc.NewServer(appCtx, logger, cfgProvider, handler)
}

// ProviderSet lists every constructor wire may use to build an App.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,
	APIKeyMiddlewareProvider,

	// Infrastructure adapters
	RedisClientProvider,
	CallSessionStoreProvider,
	PresenceAdapterProvider,
	NatsConnectionProvider,
	EventPublisherProvider,
	ChatStoreProvider,

	// Application services
	SignalingRelayProvider,
	ChatRoomBroadcasterProvider,
	NotificationServiceProvider,

	// Ingress
	NotificationConsumerProvider,
	WebsocketHandlerProvider,
	WebsocketRouterProvider,
	GRPCNotificationHandlerProvider,
	GRPCServerProvider,

	NewApp,
)
