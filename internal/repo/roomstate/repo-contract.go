package roomstate_repo

import (
	"context"

	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RoomStateRepoContract is the narrow repository surface the
// reconciliation engine reads and writes through. All mutations are
// commutative or idempotent at the storage layer (set-union, one-way
// flags, last-writer-wins rows) so at-least-once redelivery is safe.
type RoomStateRepoContract interface {
	FindRoomByID(ctx context.Context, roomID string) (*entity.Room, *app_error.AppError)
	FindRoomMembers(ctx context.Context, roomID string) ([]*entity.RoomMember, *app_error.AppError)
	ListRoomsForUser(ctx context.Context, userID string) ([]*entity.Room, *app_error.AppError)

	GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError)
	FindMessageByID(ctx context.Context, messageID bson.ObjectID) (*entity.Message, *app_error.AppError)
	LatestMessageID(ctx context.Context, roomID string) (*bson.ObjectID, *app_error.AppError)

	// LatestVisibleMessage returns the newest non-deleted message in the
	// room (the room-list preview), nil when the room has none.
	LatestVisibleMessage(ctx context.Context, roomID string) (*entity.Message, *app_error.AppError)

	// InsertMessage upserts by id; inserted is false on duplicate delivery.
	// The read_by set is unioned either way and content is never changed
	// for an existing document.
	InsertMessage(ctx context.Context, msg *entity.Message) (inserted bool, err *app_error.AppError)

	// UpsertReadBy unions userID into the message's read_by set.
	UpsertReadBy(ctx context.Context, messageID bson.ObjectID, userID string) *app_error.AppError

	// MarkReadUpTo unions userID into read_by for every not-deleted,
	// not-self-authored, not-system message with id <= upTo that did not
	// already contain userID. Returns the ids that were newly stamped.
	MarkReadUpTo(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError)

	// SoftDelete flips is_deleted and blanks content. One-way.
	SoftDelete(ctx context.Context, messageID bson.ObjectID) *app_error.AppError

	// UpsertPresence applies a last-writer-wins upsert; a write with an
	// older timestamp than the stored row returns a stale_write error.
	UpsertPresence(ctx context.Context, entry *entity.PresenceEntry) *app_error.AppError
	GetPresence(ctx context.Context, roomID string) ([]*entity.PresenceEntry, *app_error.AppError)
}
