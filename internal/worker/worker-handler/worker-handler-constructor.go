package worker_handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xenn00/chat-presence/config"
	user_repo "github.com/xenn00/chat-presence/internal/repo/user"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/internal/websocket"
)

type WorkerHandler struct {
	Ctx       context.Context
	Redis     *redis.Client
	Ws        *websocket.Hub
	Service   chat_service.ChatServiceContract
	Directory user_repo.UserDirectoryContract

	pushClient *http.Client
}

func NewWorkerHandler(ctx context.Context, redis *redis.Client, ws *websocket.Hub, service chat_service.ChatServiceContract, directory user_repo.UserDirectoryContract) *WorkerHandler {
	timeout := 10 * time.Second
	if config.Conf.PUSH.TimeoutSec > 0 {
		timeout = time.Duration(config.Conf.PUSH.TimeoutSec) * time.Second
	}

	return &WorkerHandler{
		Ctx:        ctx,
		Redis:      redis,
		Ws:         ws,
		Service:    service,
		Directory:  directory,
		pushClient: &http.Client{Timeout: timeout},
	}
}
