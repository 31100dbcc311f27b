package entity

import "time"

// PresenceEntry records whether a user currently has a room open.
// One logical row per (room, user): concurrent sessions collapse,
// last-writer-wins by UpdatedAt. Rows flip state but are never deleted.
type PresenceEntry struct {
	RoomID    string    `gorm:"primaryKey;column:chat_room_id"`
	UserID    string    `gorm:"primaryKey;column:user_id"`
	IsOpen    bool      `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (PresenceEntry) TableName() string {
	return "chat_room_status"
}
