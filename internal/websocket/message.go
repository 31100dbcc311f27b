package websocket

// OutgoingMessage is the frame pushed to connected clients.
type OutgoingMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id,omitempty"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

const (
	TypeNewMessage  = "new_message"
	TypeReadReceipt = "read_receipt"
	TypeUnreadBadge = "unread_badge"
	TypeUserStatus  = "user_status"
	TypeMessageGone = "message_deleted"
)
