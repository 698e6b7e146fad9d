package websocket

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

const subprotocol = "json.v1"

// IdentityServer serves a connection addressed by a user identity.
type IdentityServer interface {
	Serve(id domain.Identity, conn domain.ManagedConnection)
}

// RoomServer serves a connection that joins a chat room.
type RoomServer interface {
	Serve(roomID int64, conn domain.ManagedConnection)
}

// Handler upgrades requests on the three realtime endpoints and hands the
// connection to the owning service. Each handler blocks until the service
// returns, which bounds the connection lifetime to the request.
type Handler struct {
	logger         domain.Logger
	configProvider config.Provider
	signaling      IdentityServer
	chat           RoomServer
	notifications  IdentityServer
}

func NewHandler(
	logger domain.Logger,
	cfgProvider config.Provider,
	signaling IdentityServer,
	chat RoomServer,
	notifications IdentityServer,
) *Handler {
	return &Handler{
		logger:         logger,
		configProvider: cfgProvider,
		signaling:      signaling,
		chat:           chat,
		notifications:  notifications,
	}
}

// ServeSignaling handles GET /ws/signaling/{user_id}.
func (h *Handler) ServeSignaling(w http.ResponseWriter, r *http.Request) {
	id, r, ok := h.identity(w, r)
	if !ok {
		return
	}
	conn := h.accept(w, r, "signaling")
	if conn == nil {
		return
	}
	h.signaling.Serve(id, conn)
}

// ServeNotifications handles GET /ws/notifications/{user_id}.
func (h *Handler) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	id, r, ok := h.identity(w, r)
	if !ok {
		return
	}
	conn := h.accept(w, r, "notifications")
	if conn == nil {
		return
	}
	h.notifications.Serve(id, conn)
}

// ServeChat handles GET /ws/chat/{room_id}. The participant identifies
// itself in its first frame.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed: invalid room id", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		domain.NewErrorResponse(domain.ErrBadRequest, "room_id must be an integer.", "").WriteJSON(w, http.StatusBadRequest)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), contextkeys.RoomIDKey, strconv.FormatInt(roomID, 10)))
	conn := h.accept(w, r, "chat")
	if conn == nil {
		return
	}
	h.chat.Serve(roomID, conn)
}

// identity reads {user_id} and returns the request with it in the context.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, *http.Request, bool) {
	id := domain.Identity(strings.TrimSpace(r.PathValue("user_id")))
	if id == "" {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed: missing user id", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		domain.NewErrorResponse(domain.ErrBadRequest, "Missing user_id in path parameters.", "").WriteJSON(w, http.StatusBadRequest)
		return "", r, false
	}
	return id, r.WithContext(context.WithValue(r.Context(), contextkeys.UserIDKey, id.String())), true
}

// accept upgrades the request. It returns nil after logging when the
// upgrade fails; Accept has already answered the client in that case.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request, subsystem string) *Connection {
	opts := websocket.AcceptOptions{
		Subprotocols:   []string{subprotocol},
		OriginPatterns: h.configProvider.Get().App.WebsocketAllowedOrigins,
	}
	c, err := websocket.Accept(w, r, &opts)
	if err != nil {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "subsystem", subsystem, "remote_addr", r.RemoteAddr, "error", err.Error())
		return nil
	}
	conn := NewConnection(r.Context(), c, subsystem, r.RemoteAddr, h.logger, h.configProvider)
	h.logger.Info(conn.Context(), "WebSocket connection established",
		"remote_addr", conn.RemoteAddr(),
		"subprotocol", c.Subprotocol(),
	)
	return conn
}
