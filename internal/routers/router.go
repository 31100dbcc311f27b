package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xenn00/chat-presence/internal/middleware"
	"github.com/xenn00/chat-presence/internal/presence"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/internal/websocket"
	"github.com/xenn00/chat-presence/state"
)

func NewRouter(state *state.AppState, service chat_service.ChatServiceContract, hub *websocket.Hub, tracker *presence.Tracker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestId)
	ChatRouter(r, state, service)
	HubRouter(r, state, hub, tracker)
	return r
}
