package roomstate_repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/state"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	mongoDatabase      = "chat_collection"
	messagesCollection = "messages"
)

type RoomStateRepo struct {
	AppState *state.AppState
}

func NewRoomStateRepo(appState *state.AppState) RoomStateRepoContract {
	return &RoomStateRepo{
		AppState: appState,
	}
}

func (r *RoomStateRepo) messages() *mongo.Collection {
	return r.AppState.Mongo.Database(mongoDatabase).Collection(messagesCollection)
}

func (r *RoomStateRepo) FindRoomByID(ctx context.Context, roomID string) (*entity.Room, *app_error.AppError) {
	var room entity.Room
	if err := r.AppState.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, app_error.NotFound("room not found", "room-id")
		}
		log.Error().Err(err).Msgf("failed to fetch room: %v", err)
		return nil, app_error.NewAppError(http.StatusInternalServerError, "failed to fetch room", "db-error")
	}
	return &room, nil
}

func (r *RoomStateRepo) FindRoomMembers(ctx context.Context, roomID string) ([]*entity.RoomMember, *app_error.AppError) {
	var members []*entity.RoomMember
	if err := r.AppState.DB.WithContext(ctx).Where("room_id = ?", roomID).Find(&members).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, app_error.NotFound("room not found", "room-id")
		}
		return nil, app_error.NewAppError(http.StatusInternalServerError, "failed to fetch room members", "db-error")
	}

	return members, nil
}

func (r *RoomStateRepo) ListRoomsForUser(ctx context.Context, userID string) ([]*entity.Room, *app_error.AppError) {
	var rooms []*entity.Room

	query := `
		SELECT r.* FROM rooms r
		WHERE r.id IN (
			SELECT rm.room_id FROM room_members rm WHERE rm.user_id = ?
		)
	`
	if err := r.AppState.DB.WithContext(ctx).Raw(query, userID).Scan(&rooms).Error; err != nil {
		return nil, app_error.NewAppError(http.StatusInternalServerError, "failed to list rooms for user", "db-error")
	}

	return rooms, nil
}

func (r *RoomStateRepo) GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError) {
	cur, err := r.messages().Find(ctx, bson.M{"room_id": roomID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, app_error.Transient(fmt.Sprintf("failed to fetch messages: %v", err), "mongo")
	}
	defer cur.Close(ctx)

	var messages []*entity.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, app_error.Transient(fmt.Sprintf("failed to decode messages: %v", err), "mongo")
	}

	return messages, nil
}

func (r *RoomStateRepo) FindMessageByID(ctx context.Context, messageID bson.ObjectID) (*entity.Message, *app_error.AppError) {
	var message entity.Message
	if err := r.messages().FindOne(ctx, bson.M{"_id": messageID}).Decode(&message); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, app_error.NotFound("message not found", "message-id")
		}
		return nil, app_error.Transient(fmt.Sprintf("failed to fetch message: %v", err), "mongo")
	}

	return &message, nil
}

func (r *RoomStateRepo) LatestMessageID(ctx context.Context, roomID string) (*bson.ObjectID, *app_error.AppError) {
	var doc struct {
		ID bson.ObjectID `bson:"_id"`
	}
	err := r.messages().FindOne(ctx, bson.M{"room_id": roomID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // empty room
		}
		return nil, app_error.Transient(fmt.Sprintf("failed to fetch latest message id: %v", err), "mongo")
	}

	return &doc.ID, nil
}

func (r *RoomStateRepo) LatestVisibleMessage(ctx context.Context, roomID string) (*entity.Message, *app_error.AppError) {
	var message entity.Message
	err := r.messages().FindOne(ctx, bson.M{"room_id": roomID, "is_deleted": false},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // no visible messages
		}
		return nil, app_error.Transient(fmt.Sprintf("failed to fetch latest message: %v", err), "mongo")
	}

	return &message, nil
}

func (r *RoomStateRepo) InsertMessage(ctx context.Context, msg *entity.Message) (bool, *app_error.AppError) {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	// upsert keyed by _id: duplicate feed delivery unions read_by and
	// touches nothing else
	update := bson.M{
		"$setOnInsert": bson.M{
			"room_id":    msg.RoomID,
			"author_id":  msg.AuthorID,
			"content":    msg.Content,
			"is_deleted": msg.IsDeleted,
			"created_at": msg.CreatedAt,
		},
		"$addToSet": bson.M{
			"read_by_user_ids": bson.M{"$each": readBy},
		},
	}

	res, err := r.messages().UpdateOne(ctx, bson.M{"_id": msg.ID}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return false, app_error.Transient(fmt.Sprintf("failed to insert message: %v", err), "mongo")
	}

	return res.UpsertedCount > 0, nil
}

func (r *RoomStateRepo) UpsertReadBy(ctx context.Context, messageID bson.ObjectID, userID string) *app_error.AppError {
	res, err := r.messages().UpdateOne(ctx, bson.M{"_id": messageID},
		bson.M{"$addToSet": bson.M{"read_by_user_ids": userID}})
	if err != nil {
		return app_error.Transient(fmt.Sprintf("failed to update read_by: %v", err), "mongo")
	}

	if res.MatchedCount == 0 {
		return app_error.NotFound("message not found", "message-id")
	}

	return nil
}

func (r *RoomStateRepo) MarkReadUpTo(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError) {
	filter := bson.M{
		"room_id":          roomID,
		"_id":              bson.M{"$lte": upTo},
		"is_deleted":       false,
		"author_id":        bson.M{"$nin": bson.A{userID, ""}},
		"read_by_user_ids": bson.M{"$ne": userID},
	}

	cur, err := r.messages().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, app_error.Transient(fmt.Sprintf("failed to fetch unread messages: %v", err), "mongo")
	}

	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, app_error.Transient(fmt.Sprintf("failed to decode unread messages: %v", err), "mongo")
	}

	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]bson.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	// $addToSet keeps the stamping idempotent under concurrent markers
	if _, err := r.messages().UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$addToSet": bson.M{"read_by_user_ids": userID}}); err != nil {
		return nil, app_error.Transient(fmt.Sprintf("failed to mark messages read: %v", err), "mongo")
	}

	return ids, nil
}

func (r *RoomStateRepo) SoftDelete(ctx context.Context, messageID bson.ObjectID) *app_error.AppError {
	res, err := r.messages().UpdateOne(ctx, bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"is_deleted": true, "content": ""}})
	if err != nil {
		return app_error.Transient(fmt.Sprintf("failed to soft delete message: %v", err), "mongo")
	}

	if res.MatchedCount == 0 {
		return app_error.NotFound("message not found or has been deleted", "message-id")
	}

	return nil
}

func (r *RoomStateRepo) UpsertPresence(ctx context.Context, entry *entity.PresenceEntry) *app_error.AppError {
	res := r.AppState.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_room_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"is_open":    entry.IsOpen,
			"updated_at": entry.UpdatedAt,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "chat_room_status.updated_at < excluded.updated_at"},
		}},
	}).Create(entry)

	if res.Error != nil {
		return app_error.Transient("failed to upsert presence", "db-error")
	}

	if res.RowsAffected == 0 {
		return app_error.StaleWrite("presence update older than stored row", "updated-at")
	}

	return nil
}

func (r *RoomStateRepo) GetPresence(ctx context.Context, roomID string) ([]*entity.PresenceEntry, *app_error.AppError) {
	var entries []*entity.PresenceEntry
	if err := r.AppState.DB.WithContext(ctx).Where("chat_room_id = ?", roomID).Find(&entries).Error; err != nil {
		return nil, app_error.Transient("failed to fetch presence entries", "db-error")
	}

	return entries, nil
}
