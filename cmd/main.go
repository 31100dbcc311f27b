package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/config"
	"github.com/xenn00/chat-presence/internal/feed"
	"github.com/xenn00/chat-presence/internal/queue"
	"github.com/xenn00/chat-presence/internal/routers"
	chat_service "github.com/xenn00/chat-presence/internal/use-case/chat-case"
	"github.com/xenn00/chat-presence/internal/websocket"
	"github.com/xenn00/chat-presence/internal/worker"
	"github.com/xenn00/chat-presence/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// initialize the application
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appState, err := state.InitAppState(ctx, stop)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application state")
	}
	defer appState.Close()

	wsHub := websocket.NewHub()
	log.Info().Msg("Websocket hub initialized")

	messageFeed, natsConn, err := buildFeed(appState)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize message feed")
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	producer := queue.NewProducer(appState.Redis)
	service := chat_service.NewChatService(appState, wsHub, messageFeed, producer)
	defer service.Close()

	r := routers.NewRouter(appState, service, wsHub, service.Tracker)

	workerPool := worker.NewWorkerPool(appState.Redis, appState.Mongo, 5, wsHub, service, service.Directory)
	workerPool.Start(ctx)
	workerPool.StartDLQWorker(ctx)
	workerPool.StartDLQRetryConsumer(ctx)
	workerPool.StartRecomputeScheduler(ctx, service, 5*time.Minute)
	service.StartIdleReaper(ctx, time.Minute, 10*time.Minute)

	server := &http.Server{
		Addr:         config.Conf.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// serve the application
	go func() {
		log.Info().Msgf("Starting server on http://localhost%s", config.Conf.App.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("ListenAndServe failed: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown initiated...")
	// gracefully shutdown the application
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Graceful shutdown failed: %v\n", err)
	} else {
		fmt.Println("Server exited gracefully.")
	}
	wsHub.Close()
	workerPool.Wait()
}

func buildFeed(appState *state.AppState) (feed.Feed, *nats.Conn, error) {
	switch config.Conf.FEED.Driver {
	case "nats":
		conn, err := nats.Connect(config.Conf.FEED.NatsUrl,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("url", config.Conf.FEED.NatsUrl).Msg("NATS feed initialized")
		return feed.NewNatsFeed(conn), conn, nil
	default:
		log.Info().Msg("Redis feed initialized")
		return feed.NewRedisFeed(appState.Redis), nil, nil
	}
}
