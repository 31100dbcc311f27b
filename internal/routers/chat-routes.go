package routers

import (
	"github.com/go-chi/chi/v5"
	"github.com/xenn00/chat-presence/internal/handlers"
	chat_handler "github.com/xenn00/chat-presence/internal/handlers/chat-handler"
	"github.com/xenn00/chat-presence/internal/middleware"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/state"
)

func ChatRouter(r chi.Router, state *state.AppState, service chat_service.ChatServiceContract) {
	chatHandler := chat_handler.NewChatHandler(state, service)
	r.Group(func(protected chi.Router) {
		protected.Use(middleware.JWTAuth(state.JwtSecret.Public))

		protected.Get("/api/v1/chat/rooms", handlers.WrapHandler(chatHandler.ListRooms))
		protected.Post("/api/v1/chat/lifecycle", handlers.WrapHandler(chatHandler.SignalLifecycle))

		protected.Post("/api/v1/chat/{roomId}/open", handlers.WrapHandler(chatHandler.OpenRoom))
		protected.Post("/api/v1/chat/{roomId}/close", handlers.WrapHandler(chatHandler.CloseRoom))
		protected.Patch("/api/v1/chat/{roomId}/read", handlers.WrapHandler(chatHandler.MarkRead)) // optional up_to query param
		protected.Get("/api/v1/chat/{roomId}/unread", handlers.WrapHandler(chatHandler.GetUnreadCount))
		protected.Get("/api/v1/chat/{roomId}/messages", handlers.WrapHandler(chatHandler.GetMessages))
		protected.Post("/api/v1/chat/{roomId}/messages", handlers.WrapHandler(chatHandler.SendMessage))
		protected.Delete("/api/v1/chat/{roomId}/messages/{messageId}", handlers.WrapHandler(chatHandler.DeleteMessage))
	})
}
