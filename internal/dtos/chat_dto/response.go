package chat_dto

import "time"

type PresenceResponse struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	IsOpen    bool      `json:"is_open"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UnreadCountResponse struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

type MarkReadResponse struct {
	RoomID     string   `json:"room_id"`
	MarkedRead []string `json:"marked_read"` // message ids newly stamped
}

type MessageResponse struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	AuthorID  string    `json:"author_id,omitempty"` // empty for system messages
	Content   string    `json:"content"`
	ReadBy    []string  `json:"read_by_user_ids"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is one row of the room list screen: newest activity
// first, with the last message preview and the caller's unread badge.
type RoomSummary struct {
	RoomID        string     `json:"room_id"`
	RoomType      string     `json:"room_type"`
	Title         string     `json:"title"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
}
