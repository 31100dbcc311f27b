package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/chat-presence/internal/entity"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/presence"
	"github.com/xenn00/chat-presence/internal/unread"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store is the slice of the room-state repository the coordinator
// mutates through.
type Store interface {
	FindRoomMembers(ctx context.Context, roomID string) ([]*entity.RoomMember, *app_error.AppError)
	InsertMessage(ctx context.Context, msg *entity.Message) (bool, *app_error.AppError)
	FindMessageByID(ctx context.Context, messageID bson.ObjectID) (*entity.Message, *app_error.AppError)
	LatestMessageID(ctx context.Context, roomID string) (*bson.ObjectID, *app_error.AppError)
	UpsertReadBy(ctx context.Context, messageID bson.ObjectID, userID string) *app_error.AppError
	MarkReadUpTo(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError)
	SoftDelete(ctx context.Context, messageID bson.ObjectID) *app_error.AppError
}

// Notifier delivers fire-and-forget push notifications. Failures are
// the notifier's problem, never the coordinator's.
type Notifier interface {
	Notify(ctx context.Context, targetUserID, body string)
}

// ReadReceiptFunc is invoked after a mark-read lands so observers (the
// websocket hub) can fan the receipt out.
type ReadReceiptFunc func(roomID, userID string, messageIDs []bson.ObjectID)

type task struct {
	fn  func(ctx context.Context) *app_error.AppError
	res chan *app_error.AppError
}

type lane struct {
	ch       chan task
	done     chan struct{}
	stopOnce sync.Once
}

func (l *lane) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Coordinator is the single serialization point per room: presence
// changes, message arrivals and mark-read requests for one room execute
// one at a time, in delivery order. Rooms are independent and run in
// parallel on their own lanes.
type Coordinator struct {
	store   Store
	tracker *presence.Tracker
	agg     *unread.Aggregator

	notifier      Notifier
	onReadReceipt ReadReceiptFunc

	ctx    context.Context
	cancel context.CancelFunc

	laneMu sync.Mutex
	lanes  map[string]*lane
}

func NewCoordinator(store Store, tracker *presence.Tracker, agg *unread.Aggregator) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		tracker: tracker,
		agg:     agg,
		ctx:     ctx,
		cancel:  cancel,
		lanes:   make(map[string]*lane),
	}
}

func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

func (c *Coordinator) OnReadReceipt(fn ReadReceiptFunc) {
	c.onReadReceipt = fn
}

func (c *Coordinator) lane(roomID string) *lane {
	c.laneMu.Lock()
	defer c.laneMu.Unlock()

	if l, ok := c.lanes[roomID]; ok {
		return l
	}

	l := &lane{
		ch:   make(chan task, 64),
		done: make(chan struct{}),
	}
	c.lanes[roomID] = l

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-l.done:
				return
			case t := <-l.ch:
				t.res <- t.fn(c.ctx)
			}
		}
	}()

	return l
}

// run enqueues fn on the room's lane and waits for it. The wait is
// cancellable and survives lane retirement: a retired lane fails the
// wait with a transient error instead of stranding the caller, and a
// task the lane had already picked up runs to completion either way.
// Every task is idempotent, so a retry after a transient error is safe.
func (c *Coordinator) run(ctx context.Context, roomID string, fn func(ctx context.Context) *app_error.AppError) *app_error.AppError {
	for {
		l := c.lane(roomID)
		t := task{fn: fn, res: make(chan *app_error.AppError, 1)}

		select {
		case l.ch <- t:
		case <-l.done:
			continue // lane retired between lookup and send
		case <-ctx.Done():
			return app_error.Transient("canceled while waiting for room lane", "context")
		case <-c.ctx.Done():
			return app_error.Transient("coordinator shut down", "context")
		}

		select {
		case err := <-t.res:
			return err
		case <-l.done:
			return c.settle(t, "room lane retired while event queued")
		case <-c.ctx.Done():
			return c.settle(t, "coordinator shut down")
		case <-ctx.Done():
			return app_error.Transient("canceled while event in flight", "context")
		}
	}
}

// settle gives a task one last chance to report a result after its lane
// went away. The result channel is buffered, so a task that was already
// executing completes and its outcome is preferred over the transient
// error.
func (c *Coordinator) settle(t task, msg string) *app_error.AppError {
	select {
	case err := <-t.res:
		return err
	default:
		return app_error.Transient(msg, "context")
	}
}

// ActiveRooms lists rooms with a live lane (used by the periodic
// recompute fallback).
func (c *Coordinator) ActiveRooms() []string {
	c.laneMu.Lock()
	defer c.laneMu.Unlock()

	rooms := make([]string, 0, len(c.lanes))
	for roomID := range c.lanes {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// ReleaseRoom retires the room's lane and releases the per-room caches.
func (c *Coordinator) ReleaseRoom(roomID string) {
	c.laneMu.Lock()
	l, ok := c.lanes[roomID]
	if ok {
		delete(c.lanes, roomID)
	}
	c.laneMu.Unlock()

	if ok {
		l.stop()
	}
	c.tracker.ReleaseRoom(roomID)
	c.agg.DropRoom(roomID)
}

func (c *Coordinator) Close() {
	c.cancel()
}

// MessageArrived ingests one new message: every member with the room
// open (except the author) is stamped as having read it immediately,
// everyone else's unread count goes up by one. Duplicate delivery of
// the same id only re-unions read_by.
func (c *Coordinator) MessageArrived(ctx context.Context, msg *entity.Message, authorName string) *app_error.AppError {
	return c.run(ctx, msg.RoomID, func(ctx context.Context) *app_error.AppError {
		seeded := msg.ReadBy
		msg.ReadBy = nil

		inserted, err := c.store.InsertMessage(ctx, msg)
		if err != nil {
			return err
		}

		// anyone already open on the room reads the message instantly
		stamp := unionIDs(seeded, c.tracker.ListOpenUsers(msg.RoomID, msg.AuthorID))
		stamped := make(map[string]struct{}, len(stamp))
		for _, userID := range stamp {
			if userID == msg.AuthorID {
				continue
			}
			// per-user retry: one member's failure never blocks the rest
			if err := c.stampReadBy(ctx, msg.ID, userID); err != nil {
				log.Warn().Err(err).Str("roomID", msg.RoomID).Str("userID", userID).
					Msg("reconcile: read stamp failed, will self-correct on next recompute")
				continue
			}
			stamped[userID] = struct{}{}
			msg.ReadBy = append(msg.ReadBy, userID)
		}

		members, err := c.store.FindRoomMembers(ctx, msg.RoomID)
		if err != nil {
			return err
		}

		for _, m := range members {
			if m.UserID == msg.AuthorID {
				continue
			}
			if _, ok := stamped[m.UserID]; ok {
				continue // open-implies-read: count unchanged
			}
			if inserted && !msg.IsSystem() {
				c.agg.ApplyMessageInserted(msg.RoomID, m.UserID, msg)
			}
		}

		if inserted && !msg.IsSystem() && c.notifier != nil {
			body := msg.Content
			if authorName != "" {
				body = fmt.Sprintf("%s: %s", authorName, msg.Content)
			}
			for _, m := range members {
				if m.UserID != msg.AuthorID {
					c.notifier.Notify(ctx, m.UserID, body)
				}
			}
		}

		return nil
	})
}

func (c *Coordinator) stampReadBy(ctx context.Context, messageID bson.ObjectID, userID string) *app_error.AppError {
	err := c.store.UpsertReadBy(ctx, messageID, userID)
	if err == nil || !err.IsKind(app_error.KindTransient) {
		return err
	}
	return c.store.UpsertReadBy(ctx, messageID, userID)
}

// MarkRead unions the user into read_by for every unread message up to
// and including upTo, then settles the cached count. Returns the ids
// newly stamped; errors on this path surface to the caller so the UI
// can retry.
func (c *Coordinator) MarkRead(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError) {
	var marked []bson.ObjectID
	err := c.run(ctx, roomID, func(ctx context.Context) *app_error.AppError {
		ids, err := c.markRead(ctx, roomID, userID, upTo)
		marked = ids
		return err
	})
	return marked, err
}

func (c *Coordinator) markRead(ctx context.Context, roomID, userID string, upTo bson.ObjectID) ([]bson.ObjectID, *app_error.AppError) {
	ids, err := c.store.MarkReadUpTo(ctx, roomID, userID, upTo)
	if err != nil {
		return nil, err
	}

	c.agg.ApplyMarkedRead(roomID, userID, len(ids))

	if c.onReadReceipt != nil && len(ids) > 0 {
		c.onReadReceipt(roomID, userID, ids)
	}

	return ids, nil
}

// PresenceChanged reacts to an accepted presence transition. Opening a
// room implies reading everything currently in it; the mapping is
// idempotent so the tracker may replay transitions freely. Failures
// here are logged, never surfaced: presence is best-effort.
func (c *Coordinator) PresenceChanged(ctx context.Context, tr presence.Transition) {
	if !tr.Open {
		return
	}

	err := c.run(ctx, tr.RoomID, func(ctx context.Context) *app_error.AppError {
		latest, err := c.store.LatestMessageID(ctx, tr.RoomID)
		if err != nil {
			return err
		}
		if latest == nil {
			return nil // empty room
		}
		_, mErr := c.markRead(ctx, tr.RoomID, tr.UserID, *latest)
		return mErr
	})
	if err != nil {
		log.Warn().Err(err).Str("roomID", tr.RoomID).Str("userID", tr.UserID).
			Msg("reconcile: open-implies-read sweep failed, unread badge stale until next event")
	}
}

// MessageUpdated merges an out-of-band update: read_by growth (other
// devices writing directly) and the one-way delete flag. read_by never
// regresses and deleted content is never resurrected.
func (c *Coordinator) MessageUpdated(ctx context.Context, incoming *entity.Message) *app_error.AppError {
	return c.run(ctx, incoming.RoomID, func(ctx context.Context) *app_error.AppError {
		stored, err := c.store.FindMessageByID(ctx, incoming.ID)
		if err != nil {
			return err
		}

		for _, userID := range incoming.ReadBy {
			if stored.ReadByUser(userID) {
				continue
			}
			if err := c.stampReadBy(ctx, incoming.ID, userID); err != nil {
				log.Warn().Err(err).Str("userID", userID).Msg("reconcile: read_by merge stamp failed")
				continue
			}
			if stored.UnreadFor(userID) {
				c.agg.ApplyMarkedRead(stored.RoomID, userID, 1)
			}
		}

		if incoming.IsDeleted && !stored.IsDeleted {
			return c.deleteMessage(ctx, stored)
		}

		return nil
	})
}

// MessageDeleted applies the one-way soft delete and drops the message
// from every member's unread count.
func (c *Coordinator) MessageDeleted(ctx context.Context, roomID string, messageID bson.ObjectID) *app_error.AppError {
	return c.run(ctx, roomID, func(ctx context.Context) *app_error.AppError {
		stored, err := c.store.FindMessageByID(ctx, messageID)
		if err != nil {
			return err
		}
		if stored.IsDeleted {
			return nil
		}
		return c.deleteMessage(ctx, stored)
	})
}

func (c *Coordinator) deleteMessage(ctx context.Context, stored *entity.Message) *app_error.AppError {
	if err := c.store.SoftDelete(ctx, stored.ID); err != nil {
		return err
	}

	members, err := c.store.FindRoomMembers(ctx, stored.RoomID)
	if err != nil {
		return err
	}

	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != stored.AuthorID {
			memberIDs = append(memberIDs, m.UserID)
		}
	}

	// stored still carries the pre-delete read_by, which is exactly the
	// state the decrement needs
	c.agg.ApplyMessageDeleted(stored.RoomID, stored, memberIDs)
	return nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
