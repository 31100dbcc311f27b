package chat_service

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/dtos/chat_dto"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/feed"
	"github.com/xenn00/chat-presence/internal/ingest"
	"github.com/xenn00/chat-presence/internal/notifier"
	"github.com/xenn00/chat-presence/internal/presence"
	"github.com/xenn00/chat-presence/internal/queue"
	"github.com/xenn00/chat-presence/internal/reconcile"
	roomstate_repo "github.com/xenn00/chat-presence/internal/repo/roomstate"
	user_repo "github.com/xenn00/chat-presence/internal/repo/user"
	"github.com/xenn00/chat-presence/internal/unread"
	"github.com/xenn00/chat-presence/internal/websocket"
	"github.com/xenn00/chat-presence/state"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type ChatService struct {
	AppState  *state.AppState
	Repo      roomstate_repo.RoomStateRepoContract
	Directory user_repo.UserDirectoryContract

	Tracker     *presence.Tracker
	Agg         *unread.Aggregator
	Coordinator *reconcile.Coordinator
	Ingestor    *ingest.Ingestor

	Ws       *websocket.Hub
	Feed     feed.Feed
	Producer queue.Producer

	subMu sync.Mutex
	subs  map[string]feed.Subscription // roomID -> live feed subscription
}

func NewChatService(appState *state.AppState, hub *websocket.Hub, fd feed.Feed, producer queue.Producer) *ChatService {
	repo := roomstate_repo.NewRoomStateRepo(appState)
	directory := user_repo.NewUserDirectory(appState)

	tracker := presence.NewTracker(repo)
	agg := unread.NewAggregator(repo)
	coordinator := reconcile.NewCoordinator(repo, tracker, agg)
	ingestor := ingest.NewIngestor(coordinator, directory)

	s := &ChatService{
		AppState:    appState,
		Repo:        repo,
		Directory:   directory,
		Tracker:     tracker,
		Agg:         agg,
		Coordinator: coordinator,
		Ingestor:    ingestor,
		Ws:          hub,
		Feed:        fd,
		Producer:    producer,
		subs:        make(map[string]feed.Subscription),
	}

	// opening a room implies reading everything currently in it
	tracker.OnTransition(coordinator.PresenceChanged)

	// unread count changes fan out to the user's devices through the
	// job queue so a slow socket never stalls reconciliation
	agg.OnUpdate(s.enqueueUnreadBadge)

	coordinator.OnReadReceipt(s.enqueueReadReceipt)
	coordinator.SetNotifier(notifier.NewQueueNotifier(producer))

	// socket lifetime drives presence: first connection opens the
	// room, last disconnect closes it
	hub.OnJoin(func(ctx context.Context, roomID, userID string) {
		if _, err := s.OpenRoom(ctx, roomID, userID); err != nil {
			log.Warn().Err(err).Str("roomID", roomID).Str("userID", userID).Msg("chat: open on ws join failed")
		}
	})
	hub.OnLeave(func(ctx context.Context, roomID, userID string) {
		if _, err := s.CloseRoom(ctx, roomID, userID); err != nil {
			log.Warn().Err(err).Str("roomID", roomID).Str("userID", userID).Msg("chat: close on ws leave failed")
		}
	})

	return s
}

// OpenRoom marks the room open for the user, which also acknowledges
// every message currently in it.
func (s *ChatService) OpenRoom(ctx context.Context, roomID, userID string) (*chat_dto.PresenceResponse, *app_error.AppError) {
	if err := s.JoinRoomFeed(ctx, roomID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s.Tracker.SetOpen(ctx, roomID, userID, true, now)

	return &chat_dto.PresenceResponse{
		RoomID:    roomID,
		UserID:    userID,
		IsOpen:    true,
		UpdatedAt: now,
	}, nil
}

func (s *ChatService) CloseRoom(ctx context.Context, roomID, userID string) (*chat_dto.PresenceResponse, *app_error.AppError) {
	now := time.Now().UTC()
	s.Tracker.SetOpen(ctx, roomID, userID, false, now)

	return &chat_dto.PresenceResponse{
		RoomID:    roomID,
		UserID:    userID,
		IsOpen:    false,
		UpdatedAt: now,
	}, nil
}

// SignalLifecycle folds client runtime signals into presence. Both the
// app lifecycle and screen visibility hooks may fire for the same
// transition; the mapping is idempotent so the double signal is
// harmless.
func (s *ChatService) SignalLifecycle(ctx context.Context, userID string, req chat_dto.LifecycleSignalRequest) *app_error.AppError {
	switch req.Signal {
	case "background", "foreground":
		s.Tracker.OnAppLifecycleChange(ctx, userID, req.Signal)
	case "hidden":
		s.Tracker.OnVisibilityChange(ctx, userID, true)
	case "visible":
		s.Tracker.OnVisibilityChange(ctx, userID, false)
	default:
		return app_error.Validation("unknown lifecycle signal", "signal")
	}
	return nil
}

func (s *ChatService) MarkRead(ctx context.Context, roomID, userID string, req chat_dto.MarkReadRequest) (*chat_dto.MarkReadResponse, *app_error.AppError) {
	if err := s.JoinRoomFeed(ctx, roomID); err != nil {
		return nil, err
	}

	var upTo bson.ObjectID
	if req.UpTo != "" {
		id, err := bson.ObjectIDFromHex(req.UpTo)
		if err != nil {
			return nil, app_error.Validation("up_to is not a valid message id", "up_to")
		}
		upTo = id
	} else {
		latest, err := s.Repo.LatestMessageID(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return &chat_dto.MarkReadResponse{RoomID: roomID, MarkedRead: []string{}}, nil
		}
		upTo = *latest
	}

	ids, err := s.Coordinator.MarkRead(ctx, roomID, userID, upTo)
	if err != nil {
		return nil, err
	}

	marked := make([]string, 0, len(ids))
	for _, id := range ids {
		marked = append(marked, id.Hex())
	}

	return &chat_dto.MarkReadResponse{RoomID: roomID, MarkedRead: marked}, nil
}

func (s *ChatService) GetUnreadCount(ctx context.Context, roomID, userID string) (*chat_dto.UnreadCountResponse, *app_error.AppError) {
	if err := s.JoinRoomFeed(ctx, roomID); err != nil {
		return nil, err
	}

	// hydrates from storage on first touch, so a fresh process never
	// reports zero over unread history
	count, err := s.Agg.GetOrRecompute(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	return &chat_dto.UnreadCountResponse{
		RoomID: roomID,
		UserID: userID,
		Count:  count,
	}, nil
}

// ListRoomsSortedByActivity builds the room list screen: newest
// activity first, rooms without messages fall back to creation time.
func (s *ChatService) ListRoomsSortedByActivity(ctx context.Context, userID string) ([]*chat_dto.RoomSummary, *app_error.AppError) {
	rooms, err := s.Repo.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*chat_dto.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		roomID := room.ID.String()

		summary := &chat_dto.RoomSummary{
			RoomID:   roomID,
			RoomType: room.RT,
			Title:    room.Title,
		}

		last, err := s.Repo.LatestVisibleMessage(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			at := last.CreatedAt
			summary.LastMessage = last.Content
			summary.LastMessageAt = &at
		}

		count, err := s.Agg.GetOrRecompute(ctx, roomID, userID)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = count

		summaries = append(summaries, summary)
	}

	createdAt := make(map[string]time.Time, len(rooms))
	for _, room := range rooms {
		createdAt[room.ID.String()] = room.CreatedAt
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return activityTime(summaries[i], createdAt).After(activityTime(summaries[j], createdAt))
	})

	return summaries, nil
}

func activityTime(s *chat_dto.RoomSummary, createdAt map[string]time.Time) time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return createdAt[s.RoomID]
}

func (s *ChatService) GetMessages(ctx context.Context, roomID string, req chat_dto.GetMessagesRequest) ([]*chat_dto.MessageResponse, *app_error.AppError) {
	if _, err := s.Repo.FindRoomByID(ctx, roomID); err != nil {
		return nil, err
	}

	messages, err := s.Repo.GetMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// cursor pagination: newest first, everything strictly before the
	// cursor id
	if req.BeforeID != nil {
		before, idErr := bson.ObjectIDFromHex(*req.BeforeID)
		if idErr != nil {
			return nil, app_error.Validation("before_id is not a valid message id", "before_id")
		}
		filtered := messages[:0]
		for _, msg := range messages {
			if msg.IDAtMost(before) && msg.ID != before {
				filtered = append(filtered, msg)
			}
		}
		messages = filtered
	}

	limit := req.Limit
	if limit == 0 {
		limit = 20
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	out := make([]*chat_dto.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, &chat_dto.MessageResponse{
			MessageID: msg.ID.Hex(),
			RoomID:    msg.RoomID,
			AuthorID:  msg.AuthorID,
			Content:   msg.Content,
			ReadBy:    msg.ReadBy,
			IsDeleted: msg.IsDeleted,
			CreatedAt: msg.CreatedAt,
		})
	}

	return out, nil
}

func (s *ChatService) SendMessage(ctx context.Context, roomID, userID string, req chat_dto.SendMessageRequest) (*chat_dto.MessageResponse, *app_error.AppError) {
	if err := s.JoinRoomFeed(ctx, roomID); err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ID:        bson.NewObjectID(),
		RoomID:    roomID,
		AuthorID:  userID,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}

	authorName := ""
	if brief, err := s.Directory.GetUserBrief(ctx, userID); err == nil {
		authorName = brief.Username
	}

	if err := s.Coordinator.MessageArrived(ctx, msg, authorName); err != nil {
		return nil, err
	}

	resp := &chat_dto.MessageResponse{
		MessageID: msg.ID.Hex(),
		RoomID:    roomID,
		AuthorID:  userID,
		Content:   msg.Content,
		ReadBy:    msg.ReadBy,
		CreatedAt: msg.CreatedAt,
	}

	s.Ws.BroadcastToRoom(roomID, websocket.OutgoingMessage{
		Type:      websocket.TypeNewMessage,
		Data:      resp,
		Timestamp: msg.CreatedAt.Unix(),
	})

	return resp, nil
}

// SendSystemMessage appends an authorless entry ("X joined the room").
// System messages keep their slot in the ordered list but never count
// as unread and never push.
func (s *ChatService) SendSystemMessage(ctx context.Context, roomID, content string) *app_error.AppError {
	msg := &entity.Message{
		ID:        bson.NewObjectID(),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.Coordinator.MessageArrived(ctx, msg, ""); err != nil {
		return err
	}

	s.Ws.BroadcastToRoom(roomID, websocket.OutgoingMessage{
		Type: websocket.TypeNewMessage,
		Data: &chat_dto.MessageResponse{
			MessageID: msg.ID.Hex(),
			RoomID:    roomID,
			Content:   content,
			CreatedAt: msg.CreatedAt,
		},
		Timestamp: msg.CreatedAt.Unix(),
	})

	return nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, roomID, messageID, userID string) *app_error.AppError {
	id, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return app_error.Validation("invalid message id", "message_id")
	}

	msg, appErr := s.Repo.FindMessageByID(ctx, id)
	if appErr != nil {
		return appErr
	}
	if msg.AuthorID != userID {
		return app_error.NewAppError(http.StatusForbidden, "only the author can delete a message", "message_id")
	}

	if appErr := s.Coordinator.MessageDeleted(ctx, roomID, id); appErr != nil {
		return appErr
	}

	s.Ws.BroadcastToRoom(roomID, websocket.OutgoingMessage{
		Type: websocket.TypeMessageGone,
		Data: map[string]string{
			"message_id": messageID,
		},
		Timestamp: time.Now().Unix(),
	})

	return nil
}

// JoinRoomFeed attaches the room to the engine: seeds presence from
// storage and starts consuming the realtime message feed. Idempotent.
func (s *ChatService) JoinRoomFeed(ctx context.Context, roomID string) *app_error.AppError {
	s.subMu.Lock()
	if _, ok := s.subs[roomID]; ok {
		s.subMu.Unlock()
		return nil
	}
	s.subMu.Unlock()

	if _, err := s.Repo.FindRoomByID(ctx, roomID); err != nil {
		return err
	}

	if err := s.Tracker.LoadRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("roomID", roomID).Msg("chat: presence seed failed, starting cold")
	}

	// seed every member's unread count before events flow: incremental
	// deltas are only correct on top of a known baseline
	members, err := s.Repo.FindRoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, err := s.Agg.RecomputeForRoom(ctx, roomID, m.UserID); err != nil {
			return err
		}
	}

	sub, err := s.Feed.Subscribe(s.AppState.Ctx, roomID, feed.Handlers{
		OnInsert: s.Ingestor.OnMessageInserted,
		OnUpdate: s.Ingestor.OnMessageUpdated,
	})
	if err != nil {
		return err
	}

	s.subMu.Lock()
	if _, ok := s.subs[roomID]; ok {
		// lost the race, keep the first subscription
		s.subMu.Unlock()
		sub.Cancel()
		return nil
	}
	s.subs[roomID] = sub
	s.subMu.Unlock()

	log.Info().Str("roomID", roomID).Msg("chat: room feed attached")
	return nil
}

// ActiveRooms lists rooms with a live feed subscription. Feeds the
// periodic recompute and the idle reaper.
func (s *ChatService) ActiveRooms() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	rooms := make([]string, 0, len(s.subs))
	for roomID := range s.subs {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// StartIdleReaper detaches rooms nobody has open and nobody is
// connected to for idleAfter. Counts reseed from storage on the next
// join, so detaching loses nothing.
func (s *ChatService) StartIdleReaper(ctx context.Context, interval, idleAfter time.Duration) {
	go func() {
		idleSince := make(map[string]time.Time)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				for _, roomID := range s.ActiveRooms() {
					if len(s.Tracker.ListOpenUsers(roomID)) > 0 || len(s.Ws.GetRoomClients(roomID)) > 0 {
						delete(idleSince, roomID)
						continue
					}
					since, ok := idleSince[roomID]
					if !ok {
						idleSince[roomID] = now
						continue
					}
					if now.Sub(since) >= idleAfter {
						s.CancelRoomFeed(roomID)
						delete(idleSince, roomID)
					}
				}
			}
		}
	}()
}

// CancelRoomFeed detaches the room: stops the feed, retires the
// reconciliation lane and drops the per-room caches.
func (s *ChatService) CancelRoomFeed(roomID string) {
	s.subMu.Lock()
	sub, ok := s.subs[roomID]
	if ok {
		delete(s.subs, roomID)
	}
	s.subMu.Unlock()

	if ok {
		sub.Cancel()
	}
	s.Coordinator.ReleaseRoom(roomID)

	log.Info().Str("roomID", roomID).Msg("chat: room feed detached")
}

// RecomputeRoom rebuilds every member's cached unread count from
// storage. The periodic safety net against drift.
func (s *ChatService) RecomputeRoom(ctx context.Context, roomID string) *app_error.AppError {
	members, err := s.Repo.FindRoomMembers(ctx, roomID)
	if err != nil {
		return err
	}

	for _, m := range members {
		if _, err := s.Agg.RecomputeForRoom(ctx, roomID, m.UserID); err != nil {
			return err
		}
	}

	return nil
}

func (s *ChatService) Close() {
	s.subMu.Lock()
	subs := make([]feed.Subscription, 0, len(s.subs))
	for roomID, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, roomID)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.Coordinator.Close()
}

func (s *ChatService) enqueueUnreadBadge(update unread.CountUpdate) {
	now := time.Now()
	job := queue.Job{
		ID:   uuid.NewString(),
		Type: queue.JobBroadcastUnread,
		Payload: queue.MustMarshal(queue.UnreadBadgePayload{
			RoomID: update.RoomID,
			UserID: update.UserID,
			Count:  update.Count,
		}),
		Priority:  2,
		MaxRetry:  3,
		CreatedAt: now.Unix(),
		ExpireAt:  now.Add(5 * time.Minute).Unix(),
	}

	if err := s.Producer.Enqueue(s.AppState.Ctx, job); err != nil {
		log.Warn().Err(err).Str("roomID", update.RoomID).Msg("chat: unread badge enqueue failed")
	}
}

func (s *ChatService) enqueueReadReceipt(roomID, userID string, messageIDs []bson.ObjectID) {
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, id.Hex())
	}

	now := time.Now()
	job := queue.Job{
		ID:   uuid.NewString(),
		Type: queue.JobBroadcastReceipt,
		Payload: queue.MustMarshal(queue.ReadReceiptPayload{
			RoomID:     roomID,
			UserID:     userID,
			MessageIDs: ids,
		}),
		Priority:  2,
		MaxRetry:  3,
		CreatedAt: now.Unix(),
		ExpireAt:  now.Add(5 * time.Minute).Unix(),
	}

	if err := s.Producer.Enqueue(s.AppState.Ctx, job); err != nil {
		log.Warn().Err(err).Str("roomID", roomID).Msg("chat: read receipt enqueue failed")
	}
}
