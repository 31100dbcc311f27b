package feed

import (
	"context"

	app_error "github.com/xenn00/chat-presence/internal/errors"
)

// Handlers receive raw event payloads for one room, in delivery order.
type Handlers struct {
	OnInsert func(ctx context.Context, payload []byte) *app_error.AppError
	OnUpdate func(ctx context.Context, payload []byte) *app_error.AppError
}

// Subscription is a live per-room feed stream.
type Subscription interface {
	Cancel()
}

// Feed is the realtime message event source. Implementations deliver
// at-least-once; downstream handlers must tolerate replays.
type Feed interface {
	Subscribe(ctx context.Context, roomID string, h Handlers) (Subscription, *app_error.AppError)
}
