package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pawchat/internal/domain"
	"pawchat/internal/events"
	"pawchat/internal/guard"
)

// DefaultCheckInterval is the minimum gap between two presence requests for a room.
const DefaultCheckInterval = time.Second

// Requester sends the presence request for a room counterpart.
type Requester interface {
	RequestPresence(ctx context.Context, roomID, otherID string) bool
}

type ChangeFunc func(roomID string, snapshot domain.PresenceSnapshot)

// Tracker keeps the best-effort presence of the counterpart in the open room. Answers
// carry no correlation id, so one arriving after the room was left is dropped.
type Tracker struct {
	requester Requester
	checks    *guard.Set
	logger    *zap.Logger

	mu        sync.Mutex
	roomID    string
	otherID   string
	snapshot  domain.PresenceSnapshot
	observers map[int]ChangeFunc
	nextObs   int
}

func NewTracker(requester Requester, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Tracker{
		requester: requester,
		checks:    guard.NewSet(clock, interval),
		logger:    logger.With(zap.String("component", "presence")),
		observers: make(map[int]ChangeFunc),
	}
}

// Track starts following otherID in roomID with an unknown snapshot.
func (t *Tracker) Track(roomID, otherID string) {
	t.mu.Lock()
	if t.roomID != roomID {
		t.checks.Forget(t.roomID)
	}
	t.roomID = roomID
	t.otherID = otherID
	t.snapshot = domain.PresenceSnapshot{}
	t.mu.Unlock()
}

// Untrack resets presence to unknown if roomID is still the tracked room.
func (t *Tracker) Untrack(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.roomID != roomID {
		return
	}
	t.checks.Forget(roomID)
	t.roomID = ""
	t.otherID = ""
	t.snapshot = domain.PresenceSnapshot{}
}

// Request asks for the counterpart's presence, at most once per interval per room.
func (t *Tracker) Request(ctx context.Context, roomID, otherID string) bool {
	g := t.checks.Get(roomID)
	if !g.TryAcquire() {
		t.logger.Debug("presence check debounced", zap.String("room_id", roomID))
		return false
	}
	defer g.Release()
	return t.requester.RequestPresence(ctx, roomID, otherID)
}

// OnPresenceChanged applies a presence push if active is still the tracked room.
func (t *Tracker) OnPresenceChanged(active events.ActiveRoom, ev *events.PresenceEvent) bool {
	t.mu.Lock()
	if t.roomID == "" || !active.Matches(t.roomID) {
		t.mu.Unlock()
		t.logger.Debug("dropping stale presence", zap.String("active_room_id", active.RoomID))
		return false
	}
	roomID := t.roomID
	t.snapshot = domain.PresenceSnapshot{Known: true, IsOnline: ev.IsOnline}
	if ev.LastSeenAt != nil {
		at := *ev.LastSeenAt
		t.snapshot.LastSeenAt = &at
	}
	snapshot := t.snapshot
	observers := make([]ChangeFunc, 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.mu.Unlock()

	for _, fn := range observers {
		fn(roomID, snapshot)
	}
	return true
}

// Snapshot returns the presence of roomID, unknown unless it is the tracked room.
func (t *Tracker) Snapshot(roomID string) domain.PresenceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if roomID == "" || t.roomID != roomID {
		return domain.PresenceSnapshot{}
	}
	return t.snapshot
}

func (t *Tracker) Subscribe(fn ChangeFunc) func() {
	t.mu.Lock()
	t.nextObs++
	id := t.nextObs
	t.observers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}
