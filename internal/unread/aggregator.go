package unread

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
)

// MessageLister is the slice of the room-state repository the
// aggregator needs for full recomputes.
type MessageLister interface {
	GetMessages(ctx context.Context, roomID string) ([]*entity.Message, *app_error.AppError)
}

// CountUpdate is published on every cached-count change.
type CountUpdate struct {
	RoomID string    `json:"room_id"`
	UserID string    `json:"user_id"`
	Count  int64     `json:"count"`
	At     time.Time `json:"at"`
}

// Aggregator maintains incrementally-updated unread counts per
// (room, user) instead of rescanning the message list on every change.
// The cached value must always equal the full recompute: count of
// messages that are not deleted, not system, not self-authored, and not
// yet acknowledged by the user.
type Aggregator struct {
	mu     sync.RWMutex
	counts map[string]map[string]int64 // roomID -> userID -> count

	store MessageLister

	subMu    sync.RWMutex
	nextSub  int
	userSubs map[string]map[int]chan CountUpdate // userID -> sub id -> chan
	onUpdate func(CountUpdate)                   // optional process-wide sink
}

func NewAggregator(store MessageLister) *Aggregator {
	return &Aggregator{
		counts:   make(map[string]map[string]int64),
		store:    store,
		userSubs: make(map[string]map[int]chan CountUpdate),
	}
}

// OnUpdate installs a process-wide sink invoked for every count change
// (used to fan updates out to the websocket hub). Install before use.
func (a *Aggregator) OnUpdate(fn func(CountUpdate)) {
	a.onUpdate = fn
}

// Get returns the cached count, falling back to zero when the pair has
// never been computed.
func (a *Aggregator) Get(roomID, userID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[roomID][userID]
}

// GetOrRecompute returns the cached count, computing it from storage
// the first time a (room, user) pair is seen. Distinguishes a cached
// zero from a pair the process has never tracked, so a restart never
// reports zero over unread history.
func (a *Aggregator) GetOrRecompute(ctx context.Context, roomID, userID string) (int64, *app_error.AppError) {
	a.mu.RLock()
	count, ok := a.counts[roomID][userID]
	a.mu.RUnlock()
	if ok {
		return count, nil
	}
	return a.RecomputeForRoom(ctx, roomID, userID)
}

// TotalFor sums the user's cached counts across all rooms (badge view).
func (a *Aggregator) TotalFor(userID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var total int64
	for _, users := range a.counts {
		total += users[userID]
	}
	return total
}

// RecomputeForRoom performs the full recompute from the message list.
// Used on initial load and as the correctness fallback: after it runs
// the cache equals the definition by construction.
func (a *Aggregator) RecomputeForRoom(ctx context.Context, roomID, userID string) (int64, *app_error.AppError) {
	messages, err := a.store.GetMessages(ctx, roomID)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, m := range messages {
		if m.UnreadFor(userID) {
			count++
		}
	}

	a.set(roomID, userID, count)
	return count, nil
}

// ApplyMessageInserted bumps the cached count when a newly-arrived
// message is unread for the user at insert time.
func (a *Aggregator) ApplyMessageInserted(roomID, userID string, msg *entity.Message) {
	if !msg.UnreadFor(userID) {
		return
	}
	a.add(roomID, userID, 1)
}

// ApplyMarkedRead decrements by the number of previously-unread
// messages now acknowledged, clamped at zero.
func (a *Aggregator) ApplyMarkedRead(roomID, userID string, newlyRead int) {
	if newlyRead <= 0 {
		return
	}
	a.add(roomID, userID, -int64(newlyRead))
}

// ApplyMessageDeleted drops the deleted message from every member's
// count for whom it was still unread. msg carries the pre-delete state.
func (a *Aggregator) ApplyMessageDeleted(roomID string, msg *entity.Message, memberIDs []string) {
	for _, userID := range memberIDs {
		if msg.UnreadFor(userID) {
			a.add(roomID, userID, -1)
		}
	}
}

func (a *Aggregator) set(roomID, userID string, count int64) {
	a.mu.Lock()
	users, ok := a.counts[roomID]
	if !ok {
		users = make(map[string]int64)
		a.counts[roomID] = users
	}
	prev, had := users[userID]
	users[userID] = count
	a.mu.Unlock()

	if !had || prev != count {
		a.publish(roomID, userID, count)
	}
}

func (a *Aggregator) add(roomID, userID string, delta int64) {
	a.mu.Lock()
	users, ok := a.counts[roomID]
	if !ok {
		users = make(map[string]int64)
		a.counts[roomID] = users
	}
	next := users[userID] + delta
	if next < 0 {
		next = 0 // clamp: duplicate decrements must not go negative
	}
	changed := users[userID] != next
	users[userID] = next
	a.mu.Unlock()

	if changed {
		a.publish(roomID, userID, next)
	}
}

// DropRoom releases cached counts for a room (feed unsubscribe).
func (a *Aggregator) DropRoom(roomID string) {
	a.mu.Lock()
	delete(a.counts, roomID)
	a.mu.Unlock()
}

// Subscribe returns a buffered stream of count changes concerning the
// user, across all their rooms. Cancel releases the subscription. Slow
// consumers have updates dropped rather than blocking the engine.
func (a *Aggregator) Subscribe(userID string) (<-chan CountUpdate, func()) {
	ch := make(chan CountUpdate, 16)

	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	if a.userSubs[userID] == nil {
		a.userSubs[userID] = make(map[int]chan CountUpdate)
	}
	a.userSubs[userID][id] = ch
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		if subs, ok := a.userSubs[userID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(a.userSubs, userID)
			}
		}
		a.subMu.Unlock()
	}

	return ch, cancel
}

func (a *Aggregator) publish(roomID, userID string, count int64) {
	update := CountUpdate{RoomID: roomID, UserID: userID, Count: count, At: time.Now()}

	if a.onUpdate != nil {
		a.onUpdate(update)
	}

	a.subMu.RLock()
	defer a.subMu.RUnlock()

	for _, ch := range a.userSubs[userID] {
		select {
		case ch <- update:
		default:
			log.Warn().Str("roomID", roomID).Str("userID", userID).Msg("unread: slow subscriber, dropping update")
		}
	}
}
