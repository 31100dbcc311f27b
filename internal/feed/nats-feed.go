package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

// NatsFeed streams room message events over NATS core subjects, one
// subject per room. Drop-in alternative to the Redis feed for
// deployments that already run NATS.
type NatsFeed struct {
	conn *nats.Conn
}

func NewNatsFeed(conn *nats.Conn) *NatsFeed {
	return &NatsFeed{conn: conn}
}

func RoomSubject(roomID string) string {
	return fmt.Sprintf("chat.room.%s.events", roomID)
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
	once   sync.Once
}

func (s *natsSubscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		if err := s.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("feed: nats unsubscribe failed")
		}
	})
}

func (f *NatsFeed) Subscribe(ctx context.Context, roomID string, h Handlers) (Subscription, *app_error.AppError) {
	subCtx, cancel := context.WithCancel(ctx)

	sub, err := f.conn.Subscribe(RoomSubject(roomID), func(msg *nats.Msg) {
		select {
		case <-subCtx.Done():
			return
		default:
		}
		dispatch(subCtx, roomID, msg.Data, h)
	})
	if err != nil {
		cancel()
		return nil, app_error.Transient("failed to subscribe to room subject", "nats")
	}

	return &natsSubscription{sub: sub, cancel: cancel}, nil
}

// Publish frames and fans out one event on the room subject.
func (f *NatsFeed) Publish(_ context.Context, roomID, event string, payload []byte) *app_error.AppError {
	frame, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return app_error.Validation("failed to frame feed event", "payload")
	}
	if err := f.conn.Publish(RoomSubject(roomID), frame); err != nil {
		return app_error.Transient("failed to publish feed event", "nats")
	}
	return nil
}
