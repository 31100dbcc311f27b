package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/queue"
)

// ActiveRoomLister names rooms whose unread caches are live and worth
// re-verifying.
type ActiveRoomLister interface {
	ActiveRooms() []string
}

// StartRecomputeScheduler periodically enqueues a recompute job per
// active room. Cached unread counts must always equal a full recount
// from storage; this loop is the safety net that repairs any drift from
// lost feed events.
func (wp *WorkerPool) StartRecomputeScheduler(ctx context.Context, rooms ActiveRoomLister, interval time.Duration) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()

		log.Info().Dur("interval", interval).Msg("Recompute scheduler started")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		producer := queue.NewProducer(wp.Redis)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Recompute scheduler stopping")
				return
			case <-ticker.C:
				for _, roomID := range rooms.ActiveRooms() {
					now := time.Now()
					job := queue.Job{
						ID:        uuid.NewString(),
						Type:      queue.JobRecomputeRoom,
						Payload:   queue.MustMarshal(queue.RecomputeRoomPayload{RoomID: roomID}),
						Priority:  0,
						MaxRetry:  1,
						CreatedAt: now.Unix(),
						ExpireAt:  now.Add(interval).Unix(),
					}
					if err := producer.Enqueue(ctx, job); err != nil {
						log.Warn().Err(err).Str("roomID", roomID).Msg("Recompute enqueue failed")
					}
				}
			}
		}
	}()
}
