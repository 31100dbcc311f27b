package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	user_repo "github.com/xenn00/chat-presence/internal/repo/user"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reconciler is the downstream the ingestor hands normalized messages
// to, one room-ordered call at a time.
type Reconciler interface {
	MessageArrived(ctx context.Context, msg *entity.Message, authorName string) *app_error.AppError
	MessageUpdated(ctx context.Context, msg *entity.Message) *app_error.AppError
}

// RawMessage is the wire shape of one message event off the realtime
// feed, before normalization.
type RawMessage struct {
	ID        string   `json:"id" validate:"required"`
	RoomID    string   `json:"chat_room_id" validate:"required,uuid"`
	AuthorID  string   `json:"author_id"`
	Content   string   `json:"content"`
	ReadBy    []string `json:"read_by_user_ids"`
	IsDeleted bool     `json:"is_deleted"`
	CreatedAt int64    `json:"created_at" validate:"required"`
}

// Ingestor normalizes raw feed payloads into messages and pushes them
// into the reconciler. Author display names are memoized so the hot
// path skips the directory on repeat senders.
type Ingestor struct {
	reconciler Reconciler
	directory  user_repo.UserDirectoryContract
	validate   *validator.Validate

	authors sync.Map // userID -> display name
}

func NewIngestor(reconciler Reconciler, directory user_repo.UserDirectoryContract) *Ingestor {
	return &Ingestor{
		reconciler: reconciler,
		directory:  directory,
		validate:   validator.New(),
	}
}

func (i *Ingestor) decode(payload []byte) (*entity.Message, *app_error.AppError) {
	var raw RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, app_error.Validation("malformed message payload", "payload")
	}
	if err := i.validate.Struct(&raw); err != nil {
		return nil, app_error.Validation(err.Error(), "payload")
	}

	id, err := bson.ObjectIDFromHex(raw.ID)
	if err != nil {
		return nil, app_error.Validation("message id is not a valid object id", "id")
	}

	return &entity.Message{
		ID:        id,
		RoomID:    raw.RoomID,
		AuthorID:  raw.AuthorID,
		Content:   raw.Content,
		ReadBy:    raw.ReadBy,
		IsDeleted: raw.IsDeleted,
		CreatedAt: time.Unix(raw.CreatedAt, 0).UTC(),
	}, nil
}

// OnMessageInserted handles one insert event from the feed. Safe under
// at-least-once delivery: replays re-union read state and never double
// count.
func (i *Ingestor) OnMessageInserted(ctx context.Context, payload []byte) *app_error.AppError {
	msg, err := i.decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("ingest: dropping malformed insert event")
		return err
	}

	return i.reconciler.MessageArrived(ctx, msg, i.authorName(ctx, msg.AuthorID))
}

// OnMessageUpdated handles one update event from the feed (read_by
// growth or soft delete).
func (i *Ingestor) OnMessageUpdated(ctx context.Context, payload []byte) *app_error.AppError {
	msg, err := i.decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("ingest: dropping malformed update event")
		return err
	}

	return i.reconciler.MessageUpdated(ctx, msg)
}

func (i *Ingestor) authorName(ctx context.Context, authorID string) string {
	if authorID == "" {
		return ""
	}
	if name, ok := i.authors.Load(authorID); ok {
		return name.(string)
	}

	brief, err := i.directory.GetUserBrief(ctx, authorID)
	if err != nil {
		log.Warn().Err(err).Str("userID", authorID).Msg("ingest: author lookup failed")
		return ""
	}

	i.authors.Store(authorID, brief.Username)
	return brief.Username
}

// InvalidateAuthor drops one cached display name (profile edits).
func (i *Ingestor) InvalidateAuthor(userID string) {
	i.authors.Delete(userID)
}

// Flush empties the author cache.
func (i *Ingestor) Flush() {
	i.authors.Range(func(k, _ any) bool {
		i.authors.Delete(k)
		return true
	})
}
