package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: limit your cors, don't get true so easy in production
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AuthenticatorFunc resolves the connecting user from the handshake
// request.
type AuthenticatorFunc func(r *http.Request) (userID string, err error)

type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// WebSocketHandler upgrades handshakes and parks clients on the hub.
type WebSocketHandler struct {
	hub           *Hub
	authenticator AuthenticatorFunc
}

func NewWebSocketHandler(hub *Hub, authenticator AuthenticatorFunc) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, authenticator: authenticator}
}

// HandleRoom serves GET /ws/rooms/{roomID}
func (wh *WebSocketHandler) HandleRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	userID, err := wh.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	conn, upErr := upgrader.Upgrade(w, r, nil)
	if upErr != nil {
		log.Error().Err(upErr).Msg("ws: upgrade failed")
		return
	}

	client := newClient(wh.hub, conn, userID, roomID, uuid.NewString())
	wh.hub.Register(roomID, client)
}

func (wh *WebSocketHandler) authenticate(r *http.Request) (string, error) {
	if wh.authenticator == nil {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			return "", &AuthError{Message: "user_id is required"}
		}
		return userID, nil
	}

	return wh.authenticator(r)
}
