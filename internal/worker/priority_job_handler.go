package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xenn00/chat-presence/internal/queue"
	user_repo "github.com/xenn00/chat-presence/internal/repo/user"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/internal/websocket"
	worker_handler "github.com/xenn00/chat-presence/internal/worker/worker-handler"
)

func HandleJob(ctx context.Context, job queue.Job, redis *redis.Client, ws *websocket.Hub, service chat_service.ChatServiceContract, directory user_repo.UserDirectoryContract) error {
	workerHandler := worker_handler.NewWorkerHandler(ctx, redis, ws, service, directory)
	switch job.Type {
	case queue.JobPushNotification:
		return workerHandler.HandlePushNotification(ctx, job.Payload)
	case queue.JobBroadcastUnread:
		return workerHandler.HandleBroadcastUnread(job.Payload)
	case queue.JobBroadcastReceipt:
		return workerHandler.HandleBroadcastReceipt(job.Payload)
	case queue.JobRecomputeRoom:
		return workerHandler.HandleRecomputeRoom(ctx, job.Payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
