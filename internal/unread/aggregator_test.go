package unread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeLister struct {
	messages []*entity.Message
}

func (f *fakeLister) GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError) {
	return f.messages, nil
}

func msg(author string, readBy []string, deleted bool) *entity.Message {
	return &entity.Message{
		ID:        bson.NewObjectID(),
		RoomID:    "room-1",
		AuthorID:  author,
		Content:   "hello",
		ReadBy:    readBy,
		IsDeleted: deleted,
		CreatedAt: time.Now(),
	}
}

func TestRecomputeForRoom(t *testing.T) {
	lister := &fakeLister{messages: []*entity.Message{
		msg("bob", nil, false),               // unread for alice
		msg("bob", []string{"alice"}, false), // acknowledged
		msg("alice", nil, false),             // self-authored
		msg("bob", nil, true),                // deleted
		msg("", nil, false),                  // system
	}}
	agg := NewAggregator(lister)

	count, err := agg.RecomputeForRoom(context.Background(), "room-1", "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), agg.Get("room-1", "alice"))
}

func TestIncrementalMatchesRecompute(t *testing.T) {
	// drive the cache incrementally, then verify it equals the full
	// recompute over the same history
	lister := &fakeLister{}
	agg := NewAggregator(lister)

	m1 := msg("bob", nil, false)
	m2 := msg("bob", nil, false)
	m3 := msg("alice", nil, false)

	agg.ApplyMessageInserted("room-1", "alice", m1)
	agg.ApplyMessageInserted("room-1", "alice", m2)
	agg.ApplyMessageInserted("room-1", "alice", m3) // self-authored, no-op

	assert.Equal(t, int64(2), agg.Get("room-1", "alice"))

	// alice acknowledges m1
	m1.ReadBy = []string{"alice"}
	agg.ApplyMarkedRead("room-1", "alice", 1)
	assert.Equal(t, int64(1), agg.Get("room-1", "alice"))

	lister.messages = []*entity.Message{m1, m2, m3}
	count, err := agg.RecomputeForRoom(context.Background(), "room-1", "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(1), count, "incremental cache must equal full recompute")
}

type countingLister struct {
	messages []*entity.Message
	calls    int
}

func (c *countingLister) GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError) {
	c.calls++
	return c.messages, nil
}

func TestGetOrRecompute_HydratesOnceThenCached(t *testing.T) {
	lister := &countingLister{messages: []*entity.Message{
		msg("bob", nil, false),
		msg("bob", nil, false),
	}}
	agg := NewAggregator(lister)
	ctx := context.Background()

	count, err := agg.GetOrRecompute(ctx, "room-1", "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 1, lister.calls, "first touch hydrates from storage")

	count, err = agg.GetOrRecompute(ctx, "room-1", "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 1, lister.calls, "cached pair never re-reads storage")

	// a cached zero is still a cache hit
	agg.ApplyMarkedRead("room-1", "alice", 2)
	count, err = agg.GetOrRecompute(ctx, "room-1", "alice")
	require.Nil(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 1, lister.calls)
}

func TestApplyMarkedRead_ZeroAndNegativeIgnored(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))
	agg.ApplyMarkedRead("room-1", "alice", 0)
	agg.ApplyMarkedRead("room-1", "alice", -3)

	assert.Equal(t, int64(1), agg.Get("room-1", "alice"))
}

func TestApplyMarkedRead_ClampsAtZero(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))
	// a duplicate decrement from replayed events must not go negative
	agg.ApplyMarkedRead("room-1", "alice", 5)

	assert.Equal(t, int64(0), agg.Get("room-1", "alice"))
}

func TestApplyMessageDeleted(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	m := msg("bob", []string{"carol"}, false)
	agg.ApplyMessageInserted("room-1", "alice", m)
	agg.ApplyMessageInserted("room-1", "dave", m)

	// carol already read it, her count never counted it
	agg.ApplyMessageDeleted("room-1", m, []string{"alice", "carol", "dave"})

	assert.Equal(t, int64(0), agg.Get("room-1", "alice"))
	assert.Equal(t, int64(0), agg.Get("room-1", "carol"))
	assert.Equal(t, int64(0), agg.Get("room-1", "dave"))
}

func TestTotalFor(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))
	m := msg("bob", nil, false)
	m.RoomID = "room-2"
	agg.ApplyMessageInserted("room-2", "alice", m)

	assert.Equal(t, int64(2), agg.TotalFor("alice"))
}

func TestSubscribe(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	ch, cancel := agg.Subscribe("alice")
	defer cancel()

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))

	select {
	case update := <-ch:
		assert.Equal(t, "room-1", update.RoomID)
		assert.Equal(t, "alice", update.UserID)
		assert.Equal(t, int64(1), update.Count)
	case <-time.After(time.Second):
		t.Fatal("expected a count update")
	}
}

func TestSubscribe_NoPublishWithoutChange(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	ch, cancel := agg.Subscribe("alice")
	defer cancel()

	// self-authored insert changes nothing
	agg.ApplyMessageInserted("room-1", "alice", msg("alice", nil, false))

	select {
	case update := <-ch:
		t.Fatalf("unexpected update: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOnUpdateSink(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	var got []CountUpdate
	agg.OnUpdate(func(u CountUpdate) { got = append(got, u) })

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))
	agg.ApplyMarkedRead("room-1", "alice", 1)

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Count)
	assert.Equal(t, int64(0), got[1].Count)
}

func TestDropRoom(t *testing.T) {
	agg := NewAggregator(&fakeLister{})

	agg.ApplyMessageInserted("room-1", "alice", msg("bob", nil, false))
	agg.DropRoom("room-1")

	assert.Equal(t, int64(0), agg.Get("room-1", "alice"))
}
