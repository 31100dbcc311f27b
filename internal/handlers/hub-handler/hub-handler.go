package hub_handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/handlers"
	"github.com/xenn00/chat-presence/internal/middleware"
	"github.com/xenn00/chat-presence/internal/presence"
	"github.com/xenn00/chat-presence/internal/websocket"
)

type HubHandler struct {
	Hub     *websocket.Hub
	Tracker *presence.Tracker
}

func NewHubHandler(hub *websocket.Hub, tracker *presence.Tracker) *HubHandler {
	return &HubHandler{
		Hub:     hub,
		Tracker: tracker,
	}
}

func (h *HubHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "chat-presence",
	})
}

func (h *HubHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	stats := h.Hub.GetHubStats()
	reqID, ok := r.Context().Value(middleware.RequestIdKey).(string)
	if !ok {
		reqID = "unknown"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("get websocket stats", stats, reqID))
	return nil
}

// HandleGetRoomPresence lists who currently has the room open, per the
// presence tracker rather than raw socket counts.
func (h *HubHandler) HandleGetRoomPresence(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID := chi.URLParam(r, "roomId")

	resp := map[string]any{
		"room_id":    roomID,
		"open_users": h.Tracker.ListOpenUsers(roomID),
	}

	reqID, ok := r.Context().Value(middleware.RequestIdKey).(string)
	if !ok {
		reqID = "unknown"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("room presence fetched", resp, reqID))
	return nil
}

// HandleGetUserStatus reports whether a user has the room open and how
// many live connections they hold.
func (h *HubHandler) HandleGetUserStatus(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	userID := chi.URLParam(r, "userId")
	roomID := r.URL.Query().Get("roomId")

	resp := map[string]any{
		"user_id":    userID,
		"room_id":    roomID,
		"open":       roomID != "" && h.Tracker.IsOpen(roomID, userID),
		"online":     roomID != "" && h.Hub.IsUserOnlineInRoom(roomID, userID),
		"open_rooms": h.Tracker.OpenRooms(userID),
	}

	reqID, ok := r.Context().Value(middleware.RequestIdKey).(string)
	if !ok {
		reqID = "unknown"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("user status fetched", resp, reqID))
	return nil
}
