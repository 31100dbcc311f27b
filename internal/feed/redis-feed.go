package feed

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	EventMessageInserted = "message.inserted"
	EventMessageUpdated  = "message.updated"
)

// envelope is the wire frame on the feed channel: an event name plus
// the raw message document.
type envelope struct {
	Event   string              `json:"event"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// RedisFeed streams room message events over Redis Pub/Sub, one channel
// per room.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func RoomChannel(roomID string) string {
	return fmt.Sprintf("chat:room:%s:events", roomID)
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			log.Warn().Err(err).Msg("feed: pubsub close failed")
		}
	})
}

func (f *RedisFeed) Subscribe(ctx context.Context, roomID string, h Handlers) (Subscription, *app_error.AppError) {
	pubsub := f.client.Subscribe(ctx, RoomChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, app_error.Transient("failed to subscribe to room feed", "redis")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				dispatch(subCtx, roomID, []byte(msg.Payload), h)
			}
		}
	}()

	return sub, nil
}

// Publish frames and fans out one event on the room channel. Used by
// tests and by the in-process send path.
func (f *RedisFeed) Publish(ctx context.Context, roomID, event string, payload []byte) *app_error.AppError {
	frame, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return app_error.Validation("failed to frame feed event", "payload")
	}
	if err := f.client.Publish(ctx, RoomChannel(roomID), frame).Err(); err != nil {
		return app_error.Transient("failed to publish feed event", "redis")
	}
	return nil
}

func dispatch(ctx context.Context, roomID string, frame []byte, h Handlers) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Warn().Err(err).Str("roomID", roomID).Msg("feed: dropping malformed frame")
		return
	}

	var err *app_error.AppError
	switch env.Event {
	case EventMessageInserted:
		if h.OnInsert != nil {
			err = h.OnInsert(ctx, env.Payload)
		}
	case EventMessageUpdated:
		if h.OnUpdate != nil {
			err = h.OnUpdate(ctx, env.Payload)
		}
	default:
		log.Debug().Str("event", env.Event).Str("roomID", roomID).Msg("feed: ignoring unknown event")
		return
	}

	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Str("roomID", roomID).
			Msg("feed: handler failed, event lost until recompute")
	}
}
