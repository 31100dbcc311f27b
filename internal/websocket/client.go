package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB
)

type Client struct {
	ID     string
	UserID string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	lastSeen  atomic.Int64
	hub       *Hub
}

func newClient(hub *Hub, conn *websocket.Conn, userID, roomID, clientID string) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	c := &Client{
		ID:     clientID,
		UserID: userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
		hub:    hub,
	}
	c.touch()
	return c
}

// Start launches the read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.Conn.Close()
	})
}

func (c *Client) IsClientActive() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Client) GetLastSeen() time.Time {
	return time.Unix(c.lastSeen.Load(), 0)
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().Unix())
}

// writePump: take data from c.Send and send to socket + ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				_ = w.Close()
				return
			}
			_ = w.Close()

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump: inbound frames are discarded, pongs refresh the keep-alive
// deadline and the activity clock
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.RoomID, c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
		c.touch()
	}
}
