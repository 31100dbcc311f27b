package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/queue"
)

// PushPayload is the job body a push_notification job carries to the
// worker pool.
type PushPayload struct {
	TargetUserID string `json:"target_user_id"`
	Body         string `json:"body"`
}

// QueueNotifier hands push notifications off to the Redis job queue.
// Fire and forget: enqueue failures are logged and swallowed so a
// broken push path never stalls message reconciliation.
type QueueNotifier struct {
	producer queue.Producer
}

func NewQueueNotifier(producer queue.Producer) *QueueNotifier {
	return &QueueNotifier{producer: producer}
}

func (n *QueueNotifier) Notify(ctx context.Context, targetUserID, body string) {
	now := time.Now()
	job := queue.Job{
		ID:   uuid.NewString(),
		Type: queue.JobPushNotification,
		Payload: queue.MustMarshal(PushPayload{
			TargetUserID: targetUserID,
			Body:         body,
		}),
		Priority:  1,
		MaxRetry:  3,
		CreatedAt: now.Unix(),
		ExpireAt:  now.Add(10 * time.Minute).Unix(),
	}

	if err := n.producer.Enqueue(ctx, job); err != nil {
		log.Warn().Err(err).Str("userID", targetUserID).Msg("notifier: enqueue failed, dropping push")
	}
}
