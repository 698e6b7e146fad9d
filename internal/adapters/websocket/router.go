package websocket

import (
	"context"
	"net/http"

	"github.com/mindcare/realtime-service/internal/adapters/middleware"
	"github.com/mindcare/realtime-service/internal/domain"
)

// Router registers the realtime WebSocket endpoints.
type Router struct {
	logger  domain.Logger
	handler *Handler
}

func NewRouter(logger domain.Logger, handler *Handler) *Router {
	return &Router{logger: logger, handler: handler}
}

// RegisterRoutes mounts the three endpoints on mux. Go 1.22 patterns carry
// the path values read by the handler.
func (r *Router) RegisterRoutes(ctx context.Context, mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /ws/signaling/{user_id}", r.handler.ServeSignaling},
		{"GET /ws/chat/{room_id}", r.handler.ServeChat},
		{"GET /ws/notifications/{user_id}", r.handler.ServeNotifications},
	}
	for _, route := range routes {
		mux.Handle(route.pattern, middleware.RequestIDMiddleware(route.handler))
		r.logger.Info(ctx, "WebSocket endpoint registered", "pattern", route.pattern)
	}
}
