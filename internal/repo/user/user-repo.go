package user_repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/utils"
	"github.com/xenn00/chat-presence/state"
	"gorm.io/gorm"
)

const briefCacheTTL = 15 * time.Minute

type UserDirectory struct {
	AppState *state.AppState
}

func NewUserDirectory(appState *state.AppState) UserDirectoryContract {
	return &UserDirectory{
		AppState: appState,
	}
}

func briefCacheKey(userID string) string {
	return fmt.Sprintf("user_brief:%s", userID)
}

func (r *UserDirectory) GetUserBrief(ctx context.Context, userID string) (*entity.UserBrief, *app_error.AppError) {
	cached, cacheErr := utils.GetCacheData[entity.UserBrief](ctx, r.AppState.Redis, briefCacheKey(userID))
	if cacheErr != nil {
		log.Warn().Err(cacheErr).Str("userID", userID).Msg("user brief cache read failed, falling back to db")
	}
	if cached != nil {
		return cached, nil
	}

	var user entity.User
	if err := r.AppState.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, app_error.NotFound("cannot find user", "user-id")
		}
		return nil, app_error.NewAppError(http.StatusInternalServerError, "unexpected error occur when fetch user", "db-error")
	}

	brief := &entity.UserBrief{
		ID:       user.ID,
		Username: user.Username,
		Icon:     user.Icon,
	}

	if err := utils.SetCacheData(ctx, r.AppState.Redis, briefCacheKey(userID), brief, briefCacheTTL); err != nil {
		log.Warn().Err(err).Str("userID", userID).Msg("failed to cache user brief")
	}

	return brief, nil
}

func (r *UserDirectory) FindPushToken(ctx context.Context, userID string) (string, *app_error.AppError) {
	var user entity.User
	if err := r.AppState.DB.WithContext(ctx).Select("push_token").Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", app_error.NotFound("cannot find user", "user-id")
		}
		return "", app_error.NewAppError(http.StatusInternalServerError, "unexpected error occur when fetch push token", "db-error")
	}

	return user.PushToken, nil
}

func (r *UserDirectory) InvalidateBrief(ctx context.Context, userID string) *app_error.AppError {
	if err := utils.DeleteCacheData(ctx, r.AppState.Redis, briefCacheKey(userID)); err != nil {
		return app_error.Transient("failed to invalidate user brief cache", "redis")
	}
	return nil
}
