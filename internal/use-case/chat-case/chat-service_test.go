package chat_service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/feed"
	"github.com/xenn00/chat-presence/internal/ingest"
	"github.com/xenn00/chat-presence/internal/presence"
	"github.com/xenn00/chat-presence/internal/queue"
	"github.com/xenn00/chat-presence/internal/reconcile"
	"github.com/xenn00/chat-presence/internal/unread"
	"github.com/xenn00/chat-presence/internal/websocket"
	"github.com/xenn00/chat-presence/state"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeRepo is an in-memory RoomStateRepoContract, pre-populated per
// test to simulate the state a fresh process finds in storage.
type fakeRepo struct {
	mu       sync.Mutex
	rooms    map[string]*entity.Room
	members  map[string][]*entity.RoomMember
	messages map[string][]*entity.Message
	presence map[string][]*entity.PresenceEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:    make(map[string]*entity.Room),
		members:  make(map[string][]*entity.RoomMember),
		messages: make(map[string][]*entity.Message),
		presence: make(map[string][]*entity.PresenceEntry),
	}
}

func (r *fakeRepo) addRoom(title string, createdAt time.Time, memberIDs ...string) string {
	room := &entity.Room{ID: uuid.New(), RT: entity.RoomTypeGroup, Title: title, CreatedAt: createdAt}
	roomID := room.ID.String()
	r.rooms[roomID] = room
	for _, id := range memberIDs {
		r.members[roomID] = append(r.members[roomID], &entity.RoomMember{RoomID: roomID, UserID: id, Role: "member"})
	}
	return roomID
}

func (r *fakeRepo) addMessage(roomID, author, content string, at time.Time, deleted bool) *entity.Message {
	m := &entity.Message{
		ID:        bson.NewObjectID(),
		RoomID:    roomID,
		AuthorID:  author,
		Content:   content,
		IsDeleted: deleted,
		CreatedAt: at,
	}
	r.messages[roomID] = append(r.messages[roomID], m)
	return m
}

func (r *fakeRepo) FindRoomByID(ctx context.Context, roomID string) (*entity.Room, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, app_error.NotFound("room not found", "room-id")
	}
	return room, nil
}

func (r *fakeRepo) FindRoomMembers(ctx context.Context, roomID string) ([]*entity.RoomMember, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[roomID], nil
}

func (r *fakeRepo) ListRoomsForUser(ctx context.Context, userID string) ([]*entity.Room, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Room
	for roomID, members := range r.members {
		for _, m := range members {
			if m.UserID == userID {
				out = append(out, r.rooms[roomID])
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[roomID], nil
}

func (r *fakeRepo) FindMessageByID(ctx context.Context, messageID bson.ObjectID) (*entity.Message, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return m, nil
			}
		}
	}
	return nil, app_error.NotFound("message not found", "message-id")
}

func (r *fakeRepo) LatestMessageID(ctx context.Context, roomID string) (*bson.ObjectID, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[roomID]
	if len(msgs) == 0 {
		return nil, nil
	}
	id := msgs[len(msgs)-1].ID
	return &id, nil
}

func (r *fakeRepo) LatestVisibleMessage(ctx context.Context, roomID string) (*entity.Message, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[roomID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsDeleted {
			return msgs[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) InsertMessage(ctx context.Context, msg *entity.Message) (bool, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[msg.RoomID] {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	r.messages[msg.RoomID] = append(r.messages[msg.RoomID], msg)
	return true, nil
}

func (r *fakeRepo) UpsertReadBy(ctx context.Context, messageID bson.ObjectID, userID string) *app_error.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == messageID && !m.ReadByUser(userID) {
				m.ReadBy = append(m.ReadBy, userID)
			}
		}
	}
	return nil
}

func (r *fakeRepo) MarkReadUpTo(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stamped []bson.ObjectID
	for _, m := range r.messages[roomID] {
		if m.IDAtMost(upTo) && m.UnreadFor(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			stamped = append(stamped, m.ID)
		}
	}
	return stamped, nil
}

func (r *fakeRepo) SoftDelete(ctx context.Context, messageID bson.ObjectID) *app_error.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.IsDeleted = true
				m.Content = ""
			}
		}
	}
	return nil
}

func (r *fakeRepo) UpsertPresence(ctx context.Context, entry *entity.PresenceEntry) *app_error.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[entry.RoomID] = append(r.presence[entry.RoomID], entry)
	return nil
}

func (r *fakeRepo) GetPresence(ctx context.Context, roomID string) ([]*entity.PresenceEntry, *app_error.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence[roomID], nil
}

type fakeDirectory struct{}

func (fakeDirectory) GetUserBrief(ctx context.Context, userID string) (*entity.UserBrief, *app_error.AppError) {
	return &entity.UserBrief{ID: userID, Username: userID}, nil
}

func (fakeDirectory) FindPushToken(ctx context.Context, userID string) (string, *app_error.AppError) {
	return "", nil
}

func (fakeDirectory) InvalidateBrief(ctx context.Context, userID string) *app_error.AppError {
	return nil
}

type fakeSubscription struct {
	cancelled sync.Once
	done      chan struct{}
}

func (s *fakeSubscription) Cancel() {
	s.cancelled.Do(func() { close(s.done) })
}

type fakeFeed struct {
	mu         sync.Mutex
	subscribes int
}

func (f *fakeFeed) Subscribe(ctx context.Context, roomID string, h feed.Handlers) (feed.Subscription, *app_error.AppError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	return &fakeSubscription{done: make(chan struct{})}, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

type fakeProducer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (p *fakeProducer) Enqueue(ctx context.Context, job queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func newTestService(t *testing.T, repo *fakeRepo) (*ChatService, *fakeFeed) {
	t.Helper()

	tracker := presence.NewTracker(repo)
	agg := unread.NewAggregator(repo)
	coord := reconcile.NewCoordinator(repo, tracker, agg)
	fd := &fakeFeed{}

	s := &ChatService{
		AppState:    &state.AppState{Ctx: context.Background()},
		Repo:        repo,
		Directory:   fakeDirectory{},
		Tracker:     tracker,
		Agg:         agg,
		Coordinator: coord,
		Ingestor:    ingest.NewIngestor(coord, fakeDirectory{}),
		Ws:          websocket.NewHub(),
		Feed:        fd,
		Producer:    &fakeProducer{},
		subs:        make(map[string]feed.Subscription),
	}
	tracker.OnTransition(coord.PresenceChanged)

	t.Cleanup(coord.Close)
	t.Cleanup(s.Ws.Close)
	return s, fd
}

func TestGetUnreadCount_ColdStartReadsHistory(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	roomID := repo.addRoom("general", now.Add(-time.Hour), "alice", "bob")
	repo.addMessage(roomID, "bob", "one", now.Add(-3*time.Minute), false)
	repo.addMessage(roomID, "bob", "two", now.Add(-2*time.Minute), false)
	repo.addMessage(roomID, "bob", "three", now.Add(-time.Minute), false)

	s, _ := newTestService(t, repo)

	// a fresh process has never tracked this pair; the count must come
	// from storage, not from an empty cache
	resp, err := s.GetUnreadCount(context.Background(), roomID, "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(3), resp.Count)
}

func TestJoinRoomFeed_SeedsAllMemberCounts(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	roomID := repo.addRoom("general", now.Add(-time.Hour), "alice", "bob")
	repo.addMessage(roomID, "bob", "one", now.Add(-2*time.Minute), false)
	repo.addMessage(roomID, "bob", "two", now.Add(-time.Minute), false)

	s, fd := newTestService(t, repo)
	ctx := context.Background()

	require.Nil(t, s.JoinRoomFeed(ctx, roomID))

	// seeded eagerly, so incremental deltas apply on a correct baseline
	assert.Equal(t, int64(2), s.Agg.Get(roomID, "alice"))
	assert.Equal(t, int64(0), s.Agg.Get(roomID, "bob"))
	assert.Contains(t, s.ActiveRooms(), roomID)

	require.Nil(t, s.JoinRoomFeed(ctx, roomID))
	assert.Equal(t, 1, fd.count(), "rejoin must not create a second subscription")
}

func TestListRoomsSortedByActivity(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()

	quiet := repo.addRoom("quiet", now.Add(-2*time.Hour), "alice", "bob")
	busy := repo.addRoom("busy", now.Add(-3*time.Hour), "alice", "bob")
	repo.addMessage(busy, "bob", "hello", now.Add(-10*time.Minute), false)
	repo.addMessage(busy, "bob", "bye", now.Add(-5*time.Minute), true) // deleted, not a preview

	s, _ := newTestService(t, repo)

	summaries, err := s.ListRoomsSortedByActivity(context.Background(), "alice")
	require.Nil(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, busy, summaries[0].RoomID, "message activity outranks creation time")
	assert.Equal(t, "hello", summaries[0].LastMessage, "preview skips deleted messages")
	assert.Equal(t, int64(1), summaries[0].UnreadCount)

	assert.Equal(t, quiet, summaries[1].RoomID)
	assert.Nil(t, summaries[1].LastMessageAt)
	assert.Equal(t, int64(0), summaries[1].UnreadCount)
}

func TestIdleReaper_DetachesIdleRooms(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	idle := repo.addRoom("idle", now.Add(-time.Hour), "alice", "bob")
	open := repo.addRoom("open", now.Add(-time.Hour), "alice", "bob")

	s, _ := newTestService(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Nil(t, s.JoinRoomFeed(ctx, idle))
	require.Nil(t, s.JoinRoomFeed(ctx, open))
	s.Tracker.SetOpen(ctx, open, "alice", true, now)

	s.StartIdleReaper(ctx, 5*time.Millisecond, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rooms := s.ActiveRooms()
		for _, roomID := range rooms {
			if roomID == idle {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "idle room never detached")

	assert.Contains(t, s.ActiveRooms(), open, "room with an open user must stay attached")
}
