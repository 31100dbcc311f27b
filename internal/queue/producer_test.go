package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer(t *testing.T) (Producer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProducer(client), client
}

func TestEnqueue(t *testing.T) {
	producer, client := newTestProducer(t)
	ctx := context.Background()

	now := time.Now().Unix()
	job := Job{
		ID:        "job-1",
		Type:      JobBroadcastUnread,
		Payload:   MustMarshal(UnreadBadgePayload{RoomID: "room-1", UserID: "alice", Count: 3}),
		Priority:  2,
		MaxRetry:  3,
		CreatedAt: now,
		ExpireAt:  now + 300,
	}
	require.NoError(t, producer.Enqueue(ctx, job))

	members, err := client.ZRangeByScore(ctx, PriorityQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	require.NoError(t, err)
	require.Len(t, members, 1, "job must be poppable at its creation time")

	var got Job
	require.NoError(t, json.Unmarshal([]byte(members[0]), &got))
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, JobBroadcastUnread, got.Type)

	var payload UnreadBadgePayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, int64(3), payload.Count)
}

func TestEnqueue_HigherPriorityPopsFirst(t *testing.T) {
	producer, client := newTestProducer(t)
	ctx := context.Background()

	now := time.Now().Unix()
	low := Job{ID: "low", Type: JobRecomputeRoom, Priority: 0, CreatedAt: now}
	high := Job{ID: "high", Type: JobPushNotification, Priority: 2, CreatedAt: now}
	require.NoError(t, producer.Enqueue(ctx, low))
	require.NoError(t, producer.Enqueue(ctx, high))

	members, err := client.ZRangeByScore(ctx, PriorityQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	require.NoError(t, err)
	require.Len(t, members, 2)

	var first Job
	require.NoError(t, json.Unmarshal([]byte(members[0]), &first))
	assert.Equal(t, "high", first.ID, "same tick, higher priority sorts earlier")
}

func TestMustMarshal(t *testing.T) {
	raw := MustMarshal(ReadReceiptPayload{RoomID: "room-1", UserID: "alice", MessageIDs: []string{"m1"}})
	require.NotNil(t, raw)

	var payload ReadReceiptPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, []string{"m1"}, payload.MessageIDs)
}
