package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apphttp "github.com/mindcare/realtime-service/internal/adapters/http"
	"github.com/mindcare/realtime-service/internal/adapters/middleware"
	"github.com/mindcare/realtime-service/pkg/safego"
)

const readinessTimeout = 2 * time.Second

// Run registers the routes, starts the ingress servers and blocks until the
// HTTP server is shut down by a signal or ctx.
func (a *App) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get().App
	a.logger.Info(ctx, "Starting application", "service_name", appCfg.ServiceName, "version", appCfg.Version)

	a.registerRoutes(ctx)

	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification consumer: %w", err)
	}
	if err := a.grpcServer.Start(); err != nil {
		a.logger.Warn(ctx, "gRPC ingress not started", "error", err.Error())
	}

	shutdownDone := safego.Go(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}
		a.shutdown()
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", a.configProvider.Get().Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	<-shutdownDone

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

func (a *App) registerRoutes(ctx context.Context) {
	plain := func(h http.Handler) http.Handler {
		return middleware.RequestIDMiddleware(middleware.AccessLogMiddleware(a.logger)(h))
	}

	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(http.HandlerFunc(a.health)))
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(http.HandlerFunc(a.ready)))
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))

	a.wsRouter.RegisterRoutes(ctx, a.httpServeMux)

	a.httpServeMux.Handle("GET /chat/{room_id}/messages", plain(apphttp.ChatHistoryHandler(a.chatStore, a.logger)))
	a.httpServeMux.Handle("GET /chat/{room_id}/participants", plain(apphttp.ChatParticipantsHandler(a.chat, a.logger)))
	a.httpServeMux.Handle("GET /notifications/{user_id}/presence", plain(apphttp.PresenceHandler(a.presence, a.logger)))
	a.httpServeMux.Handle("POST /internal/notifications", plain(a.apiKeyMiddleware(apphttp.DispatchNotificationHandler(a.notifications, a.logger))))
	a.logger.Info(ctx, "HTTP routes registered")
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"OK"}`)
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	ready := true
	dependencies := make(map[string]string)

	if a.natsConn.Status() == nats.CONNECTED {
		dependencies["nats"] = "connected"
	} else {
		dependencies["nats"] = "disconnected"
		ready = false
		a.logger.Warn(ctx, "Readiness check failed: NATS disconnected", "status", a.natsConn.Status().String())
	}

	if err := a.redisClient.Ping(ctx).Err(); err == nil {
		dependencies["redis"] = "connected"
	} else {
		dependencies["redis"] = "disconnected"
		ready = false
		a.logger.Warn(ctx, "Readiness check failed: Redis ping failed", "error", err.Error())
	}

	if err := a.chatStore.Ping(ctx); err == nil {
		dependencies["sqlite"] = "connected"
	} else {
		dependencies["sqlite"] = "unavailable"
		ready = false
		a.logger.Warn(ctx, "Readiness check failed: chat store ping failed", "error", err.Error())
	}

	response := struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}{Dependencies: dependencies}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		response.Status = "READY"
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "NOT_READY"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error(ctx, "Failed to encode readiness response", "error", err.Error())
	}
}

// shutdown stops ingress first so no new work arrives, then closes every
// realtime connection with going-away before the HTTP server drains.
func (a *App) shutdown() {
	shutdownTimeout := 30 * time.Second
	if secs := a.configProvider.Get().App.ShutdownTimeoutSeconds; secs > 0 {
		shutdownTimeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.logger.Info(ctx, "Stopping notification consumer...")
	if err := a.consumer.Stop(); err != nil {
		a.logger.Error(ctx, "Error stopping notification consumer", "error", err.Error())
	}

	a.logger.Info(ctx, "Closing all realtime connections...")
	a.signaling.Shutdown(ctx)
	a.chat.Shutdown(ctx)
	a.notifications.Shutdown(ctx)

	a.grpcServer.GracefulStop()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error(ctx, "HTTP server graceful shutdown failed", "error", err.Error())
	}
	a.logger.Info(ctx, "HTTP server shut down.")
}
