package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xenn00/chat-presence/internal/handlers"
	hub_handler "github.com/xenn00/chat-presence/internal/handlers/hub-handler"
	"github.com/xenn00/chat-presence/internal/presence"
	"github.com/xenn00/chat-presence/internal/websocket"
	"github.com/xenn00/chat-presence/state"
)

func HubRouter(r chi.Router, state *state.AppState, wsHub *websocket.Hub, tracker *presence.Tracker) {
	hubHandler := hub_handler.NewHubHandler(wsHub, tracker)
	wsHandler := websocket.NewWebSocketHandler(wsHub, websocket.JWTWebSocketAuth(state.JwtSecret.Public))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", hubHandler.HandleHealth)
		r.Get("/stats", handlers.WrapHandler(hubHandler.HandleGetStats))

		r.Get("/ws/rooms/{roomId}", func(w http.ResponseWriter, req *http.Request) {
			wsHandler.HandleRoom(w, req, chi.URLParam(req, "roomId"))
		})

		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Get("/presence", handlers.WrapHandler(hubHandler.HandleGetRoomPresence))
		})

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/status", handlers.WrapHandler(hubHandler.HandleGetUserStatus))
		})
	})
}
