package queue

// Job payload shapes, one per job type in this package.

type UnreadBadgePayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

type ReadReceiptPayload struct {
	RoomID     string   `json:"room_id"`
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

type RecomputeRoomPayload struct {
	RoomID string `json:"room_id"`
}
