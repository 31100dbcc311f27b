package roomstate_repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/state"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *RoomStateRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open sqlite")
	require.NoError(t, db.AutoMigrate(&entity.Room{}, &entity.RoomMember{}, &entity.PresenceEntry{}))

	return &RoomStateRepo{AppState: &state.AppState{DB: db}}
}

func TestUpsertPresence_InsertAndRead(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	err := repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: true, UpdatedAt: now,
	})
	require.Nil(t, err)

	entries, gErr := repo.GetPresence(ctx, "room-1")
	require.Nil(t, gErr)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.True(t, entries[0].IsOpen)
}

func TestUpsertPresence_NewerTimestampWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.Nil(t, repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: true, UpdatedAt: now,
	}))
	require.Nil(t, repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: false, UpdatedAt: now.Add(time.Second),
	}))

	entries, err := repo.GetPresence(ctx, "room-1")
	require.Nil(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsOpen)
}

func TestUpsertPresence_StaleWriteRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.Nil(t, repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: false, UpdatedAt: now,
	}))

	// a late-arriving older snapshot must not clobber the newer row
	err := repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: true, UpdatedAt: now.Add(-time.Minute),
	})
	require.NotNil(t, err)
	assert.True(t, err.IsKind(app_error.KindStaleWrite))

	entries, gErr := repo.GetPresence(ctx, "room-1")
	require.Nil(t, gErr)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsOpen)
	assert.Equal(t, now.Unix(), entries[0].UpdatedAt.Unix())
}

func TestUpsertPresence_UsersIndependent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.Nil(t, repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "alice", IsOpen: true, UpdatedAt: now,
	}))
	require.Nil(t, repo.UpsertPresence(ctx, &entity.PresenceEntry{
		RoomID: "room-1", UserID: "bob", IsOpen: false, UpdatedAt: now,
	}))

	entries, err := repo.GetPresence(ctx, "room-1")
	require.Nil(t, err)
	assert.Len(t, entries, 2)
}

func TestFindRoomByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	room := &entity.Room{ID: uuid.New(), RT: entity.RoomTypeGroup, Title: "general", HostID: "alice"}
	require.NoError(t, repo.AppState.DB.Create(room).Error)

	found, err := repo.FindRoomByID(ctx, room.ID.String())
	require.Nil(t, err)
	assert.Equal(t, "general", found.Title)

	_, err = repo.FindRoomByID(ctx, uuid.NewString())
	require.NotNil(t, err)
	assert.True(t, err.IsKind(app_error.KindNotFound))
}

func TestFindRoomMembers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	roomID := uuid.NewString()
	require.NoError(t, repo.AppState.DB.Create(&entity.RoomMember{RoomID: roomID, UserID: "alice", Role: "host"}).Error)
	require.NoError(t, repo.AppState.DB.Create(&entity.RoomMember{RoomID: roomID, UserID: "bob", Role: "member"}).Error)

	members, err := repo.FindRoomMembers(ctx, roomID)
	require.Nil(t, err)
	assert.Len(t, members, 2)
}

func TestListRoomsForUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r1 := &entity.Room{ID: uuid.New(), RT: entity.RoomTypeGroup, Title: "general", HostID: "alice"}
	r2 := &entity.Room{ID: uuid.New(), RT: entity.RoomTypePersonal, Title: "dm"}
	require.NoError(t, repo.AppState.DB.Create(r1).Error)
	require.NoError(t, repo.AppState.DB.Create(r2).Error)
	require.NoError(t, repo.AppState.DB.Create(&entity.RoomMember{RoomID: r1.ID.String(), UserID: "alice", Role: "host"}).Error)
	require.NoError(t, repo.AppState.DB.Create(&entity.RoomMember{RoomID: r2.ID.String(), UserID: "bob", Role: "member"}).Error)

	rooms, err := repo.ListRoomsForUser(ctx, "alice")
	require.Nil(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, r1.ID, rooms[0].ID)
}
