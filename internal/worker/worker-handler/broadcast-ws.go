package worker_handler

import (
	"context"
	"fmt"
	"time"

	"github.com/xenn00/chat-presence/internal/queue"
	"github.com/xenn00/chat-presence/internal/websocket"
)

// HandleBroadcastUnread pushes a fresh unread badge to every device the
// user has connected.
func (wh *WorkerHandler) HandleBroadcastUnread(raw []byte) error {
	var payload queue.UnreadBadgePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid unread badge payload: %w", err)
	}

	wh.Ws.BroadcastToUser(payload.UserID, websocket.OutgoingMessage{
		Type:   websocket.TypeUnreadBadge,
		RoomID: payload.RoomID,
		Data: map[string]any{
			"room_id": payload.RoomID,
			"count":   payload.Count,
		},
		Timestamp: time.Now().Unix(),
	})

	return nil
}

// HandleBroadcastReceipt fans a read receipt out to the room so senders
// see their messages acknowledged.
func (wh *WorkerHandler) HandleBroadcastReceipt(raw []byte) error {
	var payload queue.ReadReceiptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid read receipt payload: %w", err)
	}

	wh.Ws.BroadcastToRoom(payload.RoomID, websocket.OutgoingMessage{
		Type: websocket.TypeReadReceipt,
		Data: map[string]any{
			"user_id":     payload.UserID,
			"message_ids": payload.MessageIDs,
		},
		Timestamp: time.Now().Unix(),
	})

	return nil
}

// HandleRecomputeRoom rebuilds the room's cached unread counts from
// storage.
func (wh *WorkerHandler) HandleRecomputeRoom(ctx context.Context, raw []byte) error {
	var payload queue.RecomputeRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid recompute payload: %w", err)
	}

	if appErr := wh.Service.RecomputeRoom(ctx, payload.RoomID); appErr != nil {
		return fmt.Errorf("recompute failed: %s", appErr.Message)
	}

	return nil
}
