package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mindcare/realtime-service/internal/application"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

const maxDispatchBodyBytes = 64 << 10

// RoomDirectory reports the live membership of chat rooms.
type RoomDirectory interface {
	Members(roomID int64) []application.Participant
	RoomExists(roomID int64) bool
}

// PresenceReader looks up when a notification client was last active.
type PresenceReader interface {
	LastActive(ctx context.Context, id domain.Identity) (time.Time, bool, error)
}

// ChatHistoryResponse is returned by GET /chat/{room_id}/messages.
type ChatHistoryResponse struct {
	RoomID   int64                `json:"consultation_id"`
	Messages []domain.ChatMessage `json:"messages"`
}

// ParticipantsResponse is returned by GET /chat/{room_id}/participants.
type ParticipantsResponse struct {
	RoomID       int64                     `json:"consultation_id"`
	Participants []application.Participant `json:"participants"`
}

// PresenceResponse is returned by GET /notifications/{user_id}/presence.
type PresenceResponse struct {
	UserID     domain.Identity `json:"user_id"`
	Online     bool            `json:"online"`
	LastActive *time.Time      `json:"last_active,omitempty"`
}

// DispatchResponse is returned by POST /internal/notifications.
type DispatchResponse struct {
	NotificationID string `json:"notification_id"`
	Result         string `json:"result"`
}

// ChatHistoryHandler returns the persisted messages of a room in creation order.
func ChatHistoryHandler(store domain.ChatStore, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := roomIDFromPath(w, r, logger)
		if !ok {
			return
		}
		messages, err := store.List(r.Context(), roomID)
		if err != nil {
			logger.Error(r.Context(), "Failed to list chat history", "room_id", roomID, "error", err.Error())
			domain.NewErrorResponse(domain.ErrPersistenceFailed, "Failed to load chat history", "").WriteJSON(w, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, ChatHistoryResponse{RoomID: roomID, Messages: messages})
	}
}

// ChatParticipantsHandler lists who is joined to a room on this instance.
func ChatParticipantsHandler(rooms RoomDirectory, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := roomIDFromPath(w, r, logger)
		if !ok {
			return
		}
		if !rooms.RoomExists(roomID) {
			domain.NewErrorResponse(domain.ErrNotFound, "Room not found", "No participant has joined this room.").WriteJSON(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, ParticipantsResponse{RoomID: roomID, Participants: rooms.Members(roomID)})
	}
}

// PresenceHandler reports whether a user's notification channel was recently active.
func PresenceHandler(presence PresenceReader, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := domain.Identity(strings.TrimSpace(r.PathValue("user_id")))
		if id == "" {
			domain.NewErrorResponse(domain.ErrBadRequest, "Missing user_id in path parameters.", "").WriteJSON(w, http.StatusBadRequest)
			return
		}
		last, ok, err := presence.LastActive(r.Context(), id)
		if err != nil {
			logger.Error(r.Context(), "Failed to read presence", "user_id", id, "error", err.Error())
			domain.NewErrorResponse(domain.ErrInternal, "Failed to read presence", "").WriteJSON(w, http.StatusInternalServerError)
			return
		}
		resp := PresenceResponse{UserID: id, Online: ok}
		if ok {
			resp.LastActive = &last
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DispatchNotificationHandler lets other services push a notification to a
// connected user. The route must sit behind the API key middleware.
func DispatchNotificationHandler(dispatcher domain.NotificationDispatcher, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextkeys.SubsystemKey, "http")
		defer r.Body.Close()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxDispatchBodyBytes))
		if err != nil {
			logger.Warn(ctx, "Failed to read dispatch payload", "error", err.Error())
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
		req, err := domain.DecodeNotificationRequest(body)
		if err != nil {
			status, code := http.StatusUnprocessableEntity, domain.ErrValidationFailed
			if errors.Is(err, domain.ErrMalformedFrame) {
				status, code = http.StatusBadRequest, domain.ErrBadRequest
			}
			logger.Info(ctx, "Rejecting dispatch payload", "error", err.Error())
			domain.NewErrorResponse(code, "Invalid notification", err.Error()).WriteJSON(w, status)
			return
		}

		n, result, err := dispatcher.Dispatch(ctx, req)
		if err != nil {
			domain.NewErrorResponse(domain.ErrValidationFailed, "Invalid notification", err.Error()).WriteJSON(w, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, DispatchResponse{NotificationID: n.ID, Result: result.String()})
	}
}

func roomIDFromPath(w http.ResponseWriter, r *http.Request, logger domain.Logger) (int64, bool) {
	roomID, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil {
		logger.Warn(r.Context(), "Invalid room id in path", "path", r.URL.Path)
		domain.NewErrorResponse(domain.ErrBadRequest, "room_id must be an integer.", "").WriteJSON(w, http.StatusBadRequest)
		return 0, false
	}
	return roomID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
