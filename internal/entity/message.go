package entity

import (
	"bytes"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Message is owned by its room. Immutable once created except for the
// read_by set (append-only union) and the delete flag (one-way).
type Message struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	RoomID    string        `bson:"room_id" json:"room_id"`
	AuthorID  string        `bson:"author_id" json:"author_id"` // empty for system messages
	Content   string        `bson:"content" json:"content"`     // blanked on soft delete
	ReadBy    []string      `bson:"read_by_user_ids" json:"read_by_user_ids"`
	IsDeleted bool          `bson:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}

// IsSystem reports whether the message has no author ("X joined" entries).
// System messages stay in the ordered list but never count as unread.
func (m *Message) IsSystem() bool {
	return m.AuthorID == ""
}

func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// UnreadFor reports whether the message counts toward userID's unread
// total: not deleted, not a system message, not self-authored, not yet
// acknowledged.
func (m *Message) UnreadFor(userID string) bool {
	if m.IsDeleted || m.IsSystem() || m.AuthorID == userID {
		return false
	}
	return !m.ReadByUser(userID)
}

// IDAtMost reports whether the message id orders at or before upTo.
// ObjectIDs are creation-time prefixed, so byte order is arrival order.
func (m *Message) IDAtMost(upTo bson.ObjectID) bool {
	return bytes.Compare(m.ID[:], upTo[:]) <= 0
}
