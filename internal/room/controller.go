package room

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pawchat/internal/domain"
	"pawchat/internal/events"
)

// Invoker is the guarded outbound call path.
type Invoker interface {
	Ready() bool
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, bool)
	InvokeInto(ctx context.Context, dst any, method string, args ...any) bool
	Send(ctx context.Context, method string, args ...any) bool
}

// Controller joins private rooms and loads their history. Joined rooms are cached by
// {participant pair, subject} so joining again returns the same room.
type Controller struct {
	calls    Invoker
	logger   *zap.Logger
	pageSize int

	mu    sync.RWMutex
	rooms map[domain.RoomKey]domain.ChatRoom
	byID  map[string]domain.RoomKey

	flight singleflight.Group
}

func NewController(calls Invoker, pageSize int, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = domain.DefaultPageSize
	}
	return &Controller{
		calls:    calls,
		logger:   logger.With(zap.String("component", "room")),
		pageSize: pageSize,
		rooms:    make(map[domain.RoomKey]domain.ChatRoom),
		byID:     make(map[string]domain.RoomKey),
	}
}

func (c *Controller) PageSize() int {
	return c.pageSize
}

// JoinRoom returns the room of (selfID, otherID, subjectID), creating it on the hub if
// needed. Joins are not queued: while disconnected it returns false, even for a cached
// room, and the caller retries when the connection state changes. Concurrent joins for
// the same key share one in-flight call, which outlives any single caller's ctx.
func (c *Controller) JoinRoom(ctx context.Context, selfID, otherID, subjectID string) (domain.ChatRoom, bool) {
	if selfID == "" || otherID == "" || subjectID == "" || selfID == otherID {
		c.logger.Warn("invalid join",
			zap.String("self_id", selfID), zap.String("other_id", otherID), zap.String("subject_id", subjectID))
		return domain.ChatRoom{}, false
	}
	key := domain.NewRoomKey(selfID, otherID, subjectID)
	if !c.calls.Ready() {
		c.logger.Debug("join deferred until connected", zap.String("room_key", key.String()))
		return domain.ChatRoom{}, false
	}
	if room, ok := c.Lookup(key); ok {
		return room, true
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		if room, ok := c.Lookup(key); ok {
			return room, nil
		}
		var room domain.ChatRoom
		if !c.calls.InvokeInto(flightCtx, &room, events.MethodJoinPrivateChat, selfID, otherID, subjectID) {
			return nil, nil
		}
		if room.ID == "" {
			c.logger.Error("join returned room without id", zap.String("room_key", key.String()))
			return nil, nil
		}
		c.Remember(room)
		return room, nil
	})

	select {
	case <-ctx.Done():
		return domain.ChatRoom{}, false
	case res := <-ch:
		room, ok := res.Val.(domain.ChatRoom)
		return room, ok
	}
}

// SubscribeToRoomGroup joins the hub broadcast group of roomID.
func (c *Controller) SubscribeToRoomGroup(ctx context.Context, roomID string) bool {
	if roomID == "" {
		return false
	}
	_, ok := c.calls.Invoke(ctx, events.MethodJoinRoomGroup, roomID)
	return ok
}

// FetchHistory loads one 1-indexed page of roomID. Callers merge pages by message ID.
func (c *Controller) FetchHistory(ctx context.Context, roomID string, page, pageSize int) ([]domain.ChatMessage, bool) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	raw, ok := c.calls.Invoke(ctx, events.MethodGetMessages, roomID, page, pageSize)
	if !ok {
		return nil, false
	}
	var messages []domain.ChatMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &messages); err != nil {
			c.logger.Error("decode history", zap.String("room_id", roomID), zap.Int("page", page), zap.Error(err))
			return nil, false
		}
	}
	return messages, true
}

// RequestPresence asks the hub for the counterpart's presence. The answer arrives as a
// UserOffline push, if at all.
func (c *Controller) RequestPresence(ctx context.Context, roomID, otherID string) bool {
	return c.calls.Send(ctx, events.MethodOnlineStatus, roomID, otherID)
}

// Remember caches a room learned from a join or a NewMessage push.
func (c *Controller) Remember(room domain.ChatRoom) {
	if room.ID == "" {
		return
	}
	room.Messages = nil
	key := room.Key()
	c.mu.Lock()
	c.rooms[key] = room
	c.byID[room.ID] = key
	c.mu.Unlock()
}

func (c *Controller) Lookup(key domain.RoomKey) (domain.ChatRoom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[key]
	return room, ok
}

func (c *Controller) RoomByID(roomID string) (domain.ChatRoom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byID[roomID]
	if !ok {
		return domain.ChatRoom{}, false
	}
	return c.rooms[key], true
}

// Rooms returns every cached room.
func (c *Controller) Rooms() []domain.ChatRoom {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChatRoom, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Reset drops the cache, e.g. on logout.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.rooms = make(map[domain.RoomKey]domain.ChatRoom)
	c.byID = make(map[string]domain.RoomKey)
	c.mu.Unlock()
}
