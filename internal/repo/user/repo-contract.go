package user_repo

import (
	"context"

	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

// UserDirectoryContract resolves display metadata and push tokens for
// users. GetUserBrief is cache-first (Redis) with a database fallback.
type UserDirectoryContract interface {
	GetUserBrief(ctx context.Context, userID string) (*entity.UserBrief, *app_error.AppError)
	FindPushToken(ctx context.Context, userID string) (string, *app_error.AppError)
	InvalidateBrief(ctx context.Context, userID string) *app_error.AppError
}
