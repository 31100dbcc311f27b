package chat_service

import (
	"context"

	"github.com/xenn00/chat-presence/internal/dtos/chat_dto"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

type ChatServiceContract interface {
	// Presence
	OpenRoom(ctx context.Context, roomID, userID string) (*chat_dto.PresenceResponse, *app_error.AppError)
	CloseRoom(ctx context.Context, roomID, userID string) (*chat_dto.PresenceResponse, *app_error.AppError)
	SignalLifecycle(ctx context.Context, userID string, req chat_dto.LifecycleSignalRequest) *app_error.AppError

	// Read state
	MarkRead(ctx context.Context, roomID, userID string, req chat_dto.MarkReadRequest) (*chat_dto.MarkReadResponse, *app_error.AppError)
	GetUnreadCount(ctx context.Context, roomID, userID string) (*chat_dto.UnreadCountResponse, *app_error.AppError)

	// Rooms and messages
	ListRoomsSortedByActivity(ctx context.Context, userID string) ([]*chat_dto.RoomSummary, *app_error.AppError)
	GetMessages(ctx context.Context, roomID string, req chat_dto.GetMessagesRequest) ([]*chat_dto.MessageResponse, *app_error.AppError)
	SendMessage(ctx context.Context, roomID, userID string, req chat_dto.SendMessageRequest) (*chat_dto.MessageResponse, *app_error.AppError)
	SendSystemMessage(ctx context.Context, roomID, content string) *app_error.AppError
	DeleteMessage(ctx context.Context, roomID, messageID, userID string) *app_error.AppError

	// Feed lifecycle
	JoinRoomFeed(ctx context.Context, roomID string) *app_error.AppError
	CancelRoomFeed(roomID string)
	RecomputeRoom(ctx context.Context, roomID string) *app_error.AppError

	Close()
}
