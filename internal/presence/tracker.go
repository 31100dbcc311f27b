package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

// App lifecycle states delivered by the embedding shell.
const (
	LifecycleForeground = "foreground"
	LifecycleBackground = "background"
)

// Store is the slice of the room-state repository the tracker persists
// through.
type Store interface {
	UpsertPresence(ctx context.Context, entry *entity.PresenceEntry) *app_error.AppError
	GetPresence(ctx context.Context, roomID string) ([]*entity.PresenceEntry, *app_error.AppError)
}

// Transition describes an accepted open/close change for a (room, user)
// pair. Consumers must be idempotent: redundant open signals may be
// re-emitted.
type Transition struct {
	RoomID string
	UserID string
	Open   bool
	At     time.Time
}

type TransitionFunc func(ctx context.Context, tr Transition)

type record struct {
	open bool
	at   time.Time
}

// Tracker is the authoritative in-process view of who currently has
// which room open. Concurrent sessions for the same user collapse to a
// single logical entry, last-writer-wins by timestamp. Persistence is
// best-effort: presence is a liveness optimization and its failure must
// never block message delivery.
type Tracker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*record       // roomID -> userID -> state
	byUser map[string]map[string]struct{}      // userID -> rooms the user is open in

	store        Store
	onTransition TransitionFunc
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		rooms:  make(map[string]map[string]*record),
		byUser: make(map[string]map[string]struct{}),
		store:  store,
	}
}

// OnTransition installs the coordinator hook. Must be called before the
// tracker starts receiving signals.
func (t *Tracker) OnTransition(fn TransitionFunc) {
	t.onTransition = fn
}

// SetOpen applies an idempotent, last-writer-wins presence upsert.
// Stale timestamps are discarded silently. Both a lifecycle hook and a
// navigation hook may fire for the same transition; the repeated call is
// a no-op write but still notifies, so consumers must tolerate replays.
func (t *Tracker) SetOpen(ctx context.Context, roomID, userID string, open bool, at time.Time) {
	t.mu.Lock()
	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]*record)
		t.rooms[roomID] = users
	}

	cur, exists := users[userID]
	if exists && at.Before(cur.at) {
		t.mu.Unlock()
		log.Debug().Str("roomID", roomID).Str("userID", userID).Msg("presence: stale snapshot discarded")
		return
	}

	changed := !exists || cur.open != open
	users[userID] = &record{open: open, at: at}

	if open {
		if t.byUser[userID] == nil {
			t.byUser[userID] = make(map[string]struct{})
		}
		t.byUser[userID][roomID] = struct{}{}
	} else if rooms, ok := t.byUser[userID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.byUser, userID)
		}
	}
	t.mu.Unlock()

	if changed {
		t.persist(ctx, roomID, userID, open, at)
	}

	if t.onTransition != nil {
		t.onTransition(ctx, Transition{RoomID: roomID, UserID: userID, Open: open, At: at})
	}
}

// persist writes through to the durable store, retrying once
// synchronously, then logging and swallowing.
func (t *Tracker) persist(ctx context.Context, roomID, userID string, open bool, at time.Time) {
	entry := &entity.PresenceEntry{
		RoomID:    roomID,
		UserID:    userID,
		IsOpen:    open,
		UpdatedAt: at,
	}

	err := t.store.UpsertPresence(ctx, entry)
	if err == nil || err.IsKind(app_error.KindStaleWrite) {
		return // a stale write lost to a newer concurrent one; nothing to do
	}

	if err = t.store.UpsertPresence(ctx, entry); err != nil && !err.IsKind(app_error.KindStaleWrite) {
		log.Warn().Err(err).Str("roomID", roomID).Str("userID", userID).Bool("open", open).
			Msg("presence: persist failed after retry, state kept in-process only")
	}
}

// ListOpenUsers returns the users currently open on a room, minus any
// excluded ids (typically the message author).
func (t *Tracker) ListOpenUsers(roomID string, excluding ...string) []string {
	skip := make(map[string]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var open []string
	for userID, rec := range t.rooms[roomID] {
		if !rec.open {
			continue
		}
		if _, ok := skip[userID]; ok {
			continue
		}
		open = append(open, userID)
	}

	sort.Strings(open)
	return open
}

// IsOpen reports whether the user currently has the room open.
func (t *Tracker) IsOpen(roomID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.rooms[roomID][userID]
	return ok && rec.open
}

// OpenRooms returns the rooms the user currently has open.
func (t *Tracker) OpenRooms(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]string, 0, len(t.byUser[userID]))
	for roomID := range t.byUser[userID] {
		rooms = append(rooms, roomID)
	}

	sort.Strings(rooms)
	return rooms
}

// OnAppLifecycleChange maps shell lifecycle signals onto presence.
// Backgrounding closes every room the user has open; foregrounding is a
// no-op (the shell re-opens the focused room explicitly).
func (t *Tracker) OnAppLifecycleChange(ctx context.Context, userID, lifecycleState string) {
	if lifecycleState != LifecycleBackground {
		return
	}
	t.closeAll(ctx, userID)
}

// OnVisibilityChange maps tab visibility onto presence. Hiding the tab
// closes the user's open rooms.
func (t *Tracker) OnVisibilityChange(ctx context.Context, userID string, hidden bool) {
	if !hidden {
		return
	}
	t.closeAll(ctx, userID)
}

// OnRouteLeave closes one room when the user navigates away from it.
func (t *Tracker) OnRouteLeave(ctx context.Context, roomID, userID string) {
	t.SetOpen(ctx, roomID, userID, false, time.Now())
}

// CloseAll force-closes every room the user has open. Used on process
// or window teardown; failures are logged, not fatal.
func (t *Tracker) CloseAll(ctx context.Context, userID string) {
	t.closeAll(ctx, userID)
}

func (t *Tracker) closeAll(ctx context.Context, userID string) {
	now := time.Now()
	for _, roomID := range t.OpenRooms(userID) {
		t.SetOpen(ctx, roomID, userID, false, now)
	}
}

// LoadRoom seeds in-process state from the durable store, merging by
// last-writer-wins so fresher in-process records survive.
func (t *Tracker) LoadRoom(ctx context.Context, roomID string) *app_error.AppError {
	entries, err := t.store.GetPresence(ctx, roomID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]*record)
		t.rooms[roomID] = users
	}

	for _, e := range entries {
		if cur, ok := users[e.UserID]; ok && !cur.at.Before(e.UpdatedAt) {
			continue
		}
		users[e.UserID] = &record{open: e.IsOpen, at: e.UpdatedAt}
		if e.IsOpen {
			if t.byUser[e.UserID] == nil {
				t.byUser[e.UserID] = make(map[string]struct{})
			}
			t.byUser[e.UserID][roomID] = struct{}{}
		}
	}

	return nil
}

// ReleaseRoom drops in-process state for a room (feed unsubscribe).
func (t *Tracker) ReleaseRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID := range t.rooms[roomID] {
		if rooms, ok := t.byUser[userID]; ok {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(t.byUser, userID)
			}
		}
	}
	delete(t.rooms, roomID)
}
