package messages

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pawchat/internal/domain"
	"pawchat/internal/events"
	"pawchat/internal/guard"
)

// DefaultSeenInterval is the minimum gap between two seen acknowledgements of a room.
const DefaultSeenInterval = time.Second

// Invoker is the guarded outbound call path.
type Invoker interface {
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, bool)
	Send(ctx context.Context, method string, args ...any) bool
}

// ChangeFunc observes the messages of a room after every change.
type ChangeFunc func(roomID string, messages []domain.ChatMessage)

type Options struct {
	SelfID       string
	SeenInterval time.Duration
	// Visible reports whether a room is on screen and focused. A seen check deferred by
	// the debounce only runs later if the room is still visible. Nil means always.
	Visible func(roomID string) bool
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// roomLog is the held message sequence of one room, ordered by SentAt then arrival.
type roomLog struct {
	messages []domain.ChatMessage
	index    map[string]int
}

func newRoomLog() *roomLog {
	return &roomLog{index: make(map[string]int)}
}

func (l *roomLog) insert(m domain.ChatMessage) {
	pos := sort.Search(len(l.messages), func(i int) bool {
		return l.messages[i].SentAt.After(m.SentAt)
	})
	if pos == len(l.messages) {
		l.index[m.ID] = pos
		l.messages = append(l.messages, m)
		return
	}
	l.messages = append(l.messages, domain.ChatMessage{})
	copy(l.messages[pos+1:], l.messages[pos:])
	l.messages[pos] = m
	for i := pos; i < len(l.messages); i++ {
		l.index[l.messages[i].ID] = i
	}
}

func (l *roomLog) get(id string) (*domain.ChatMessage, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return &l.messages[i], true
}

func (l *roomLog) snapshot() []domain.ChatMessage {
	return append([]domain.ChatMessage(nil), l.messages...)
}

// change is a room snapshot taken under Engine.mu, numbered in the order it was taken.
type change struct {
	roomID    string
	seq       uint64
	messages  []domain.ChatMessage
	observers []ChangeFunc
}

// Engine mirrors the messages of held rooms and applies pushes to them. Every
// operation is idempotent: repeated or reordered events never duplicate a message or
// move it back to an earlier stage.
//
// Observers are called one at a time and never see a room snapshot older than one
// they already saw. They must not call the engine's mutating methods.
type Engine struct {
	calls   Invoker
	self    string
	logger  *zap.Logger
	seen    *guard.Set
	visible func(roomID string) bool

	mu        sync.Mutex
	rooms     map[string]*roomLog
	acked     map[string]struct{}
	observers map[int]ChangeFunc
	nextObs   int
	seq       uint64

	notifyMu  sync.Mutex
	delivered map[string]uint64
}

func NewEngine(calls Invoker, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SeenInterval <= 0 {
		opts.SeenInterval = DefaultSeenInterval
	}
	return &Engine{
		calls:     calls,
		self:      opts.SelfID,
		logger:    opts.Logger.With(zap.String("component", "messages")),
		seen:      guard.NewSet(opts.Clock, opts.SeenInterval),
		visible:   opts.Visible,
		delivered: make(map[string]uint64),
		rooms:     make(map[string]*roomLog),
		acked:     make(map[string]struct{}),
		observers: make(map[int]ChangeFunc),
	}
}

// Hold starts mirroring roomID. Pushes for rooms that are not held are not stored.
func (e *Engine) Hold(roomID string) {
	e.mu.Lock()
	if _, ok := e.rooms[roomID]; !ok {
		e.rooms[roomID] = newRoomLog()
	}
	e.mu.Unlock()
}

// Release stops mirroring roomID and drops its messages.
func (e *Engine) Release(roomID string) {
	e.mu.Lock()
	delete(e.rooms, roomID)
	e.mu.Unlock()
	e.seen.Forget(roomID)
}

func (e *Engine) Holds(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rooms[roomID]
	return ok
}

// Messages returns a copy of the held messages of roomID.
func (e *Engine) Messages(roomID string) []domain.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.rooms[roomID]; ok {
		return l.snapshot()
	}
	return nil
}

// Subscribe registers fn for room changes and returns a func removing it.
func (e *Engine) Subscribe(fn ChangeFunc) func() {
	e.mu.Lock()
	e.nextObs++
	id := e.nextObs
	e.observers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// SendMessage asks the hub to send content. Nothing is inserted locally: the message
// appears when the hub echoes it back as ReceiveMessage.
func (e *Engine) SendMessage(ctx context.Context, roomID, selfID, otherID, content string) bool {
	if strings.TrimSpace(content) == "" || roomID == "" {
		return false
	}
	_, ok := e.calls.Invoke(ctx, events.MethodSendMessage, roomID, selfID, otherID, content)
	return ok
}

// OnMessageReceived stores message if its room is held and acknowledges delivery when
// this identity is the recipient. It runs on the push goroutine, so the ack is sent
// without waiting for a completion.
func (e *Engine) OnMessageReceived(ctx context.Context, message domain.ChatMessage) bool {
	if message.ID == "" {
		return false
	}

	e.mu.Lock()
	appended := false
	var c change
	if l, ok := e.rooms[message.ChatRoomID]; ok {
		if existing, ok := l.get(message.ID); ok {
			if existing.Absorb(message) {
				c = e.changedLocked(message.ChatRoomID, l)
			}
		} else {
			l.insert(message)
			appended = true
			c = e.changedLocked(message.ChatRoomID, l)
		}
	}
	ack := false
	if message.RecipientID == e.self && !message.WasDelivered {
		if _, done := e.acked[message.ID]; !done {
			e.acked[message.ID] = struct{}{}
			ack = true
		}
	}
	e.mu.Unlock()

	if ack && !e.calls.Send(ctx, events.MethodAcknowledgeDelivery, message.ID, e.self) {
		e.mu.Lock()
		delete(e.acked, message.ID)
		e.mu.Unlock()
	}
	e.notify(c)
	return appended
}

// MergeHistory folds a fetched page into roomID, skipping IDs already held. It returns
// how many messages were added.
func (e *Engine) MergeHistory(roomID string, page []domain.ChatMessage) int {
	e.mu.Lock()
	l, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return 0
	}
	added, changed := 0, false
	for _, m := range page {
		if m.ID == "" || m.ChatRoomID != roomID {
			continue
		}
		if existing, ok := l.get(m.ID); ok {
			if existing.Absorb(m) {
				changed = true
			}
			continue
		}
		l.insert(m)
		added++
	}
	var c change
	if added > 0 || changed {
		c = e.changedLocked(roomID, l)
	}
	e.mu.Unlock()

	e.notify(c)
	return added
}

// OnDeliveryAck marks messageID delivered. Message IDs are globally unique so no room
// filter applies. A message that is not held is ignored.
func (e *Engine) OnDeliveryAck(messageID, recipientID string, delivered domain.ChatMessage) bool {
	e.mu.Lock()
	var c change
	for id, l := range e.rooms {
		m, ok := l.get(messageID)
		if !ok {
			continue
		}
		if recipientID != "" && m.RecipientID != recipientID {
			e.logger.Debug("delivery ack recipient mismatch",
				zap.String("message_id", messageID), zap.String("recipient_id", recipientID))
			break
		}
		if m.MarkDelivered(delivered.DeliveredAt) {
			c = e.changedLocked(id, l)
		}
		break
	}
	e.mu.Unlock()

	if c.roomID == "" {
		return false
	}
	e.notify(c)
	return true
}

// OnSeenAck marks the listed messages of roomID seen by viewerID. Messages of any other
// room are never touched, even when an ID matches.
func (e *Engine) OnSeenAck(roomID string, messageIDs []string, viewerID string) int {
	e.mu.Lock()
	l, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return 0
	}
	changed := 0
	for _, id := range messageIDs {
		m, ok := l.get(id)
		if !ok || m.ChatRoomID != roomID {
			continue
		}
		if m.MarkSeen(viewerID) {
			changed++
		}
	}
	var c change
	if changed > 0 {
		c = e.changedLocked(roomID, l)
	}
	e.mu.Unlock()

	e.notify(c)
	return changed
}

// UnseenInbound returns the IDs of held messages of roomID not yet seen and not sent by
// selfID.
func (e *Engine) UnseenInbound(roomID, selfID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.rooms[roomID]
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range l.messages {
		if !m.WasSeen && m.SenderID != selfID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// MarkVisibleAsSeen issues one seen acknowledgement covering every unseen inbound
// message of roomID. It is debounced per room and never runs twice in flight. A check
// refused by the debounce runs once the interval has passed, if the room is still held
// and visible. Only a successful call starts a new interval, and a call with nothing to
// acknowledge starts none. It returns the IDs covered by the call, or false when no
// call was made now.
func (e *Engine) MarkVisibleAsSeen(ctx context.Context, roomID, selfID string) ([]string, bool) {
	ids := e.UnseenInbound(roomID, selfID)
	if len(ids) == 0 {
		return nil, false
	}
	g := e.seen.Get(roomID)
	if !g.TryAcquire() {
		e.logger.Debug("seen check deferred", zap.String("room_id", roomID))
		later := context.WithoutCancel(ctx)
		g.Trail(func() { e.recheckSeen(later, roomID, selfID) })
		return nil, false
	}

	_, ok := e.calls.Invoke(ctx, events.MethodMarkMessagesAsSeen, roomID, selfID)
	g.Done(ok)
	if !ok {
		return nil, false
	}
	return ids, true
}

func (e *Engine) recheckSeen(ctx context.Context, roomID, selfID string) {
	if !e.Holds(roomID) {
		return
	}
	if e.visible != nil && !e.visible(roomID) {
		e.logger.Debug("deferred seen check dropped, room not visible", zap.String("room_id", roomID))
		return
	}
	e.MarkVisibleAsSeen(ctx, roomID, selfID)
}

// Reset drops every held room, e.g. on logout.
func (e *Engine) Reset() {
	e.mu.Lock()
	for roomID := range e.rooms {
		e.seen.Forget(roomID)
	}
	e.rooms = make(map[string]*roomLog)
	e.acked = make(map[string]struct{})
	e.mu.Unlock()

	e.notifyMu.Lock()
	e.delivered = make(map[string]uint64)
	e.notifyMu.Unlock()
}

// observerList copies the observers; e.mu must be held.
func (e *Engine) observerList() []ChangeFunc {
	out := make([]ChangeFunc, 0, len(e.observers))
	for _, fn := range e.observers {
		out = append(out, fn)
	}
	return out
}

// changedLocked snapshots l for the observers; e.mu must be held.
func (e *Engine) changedLocked(roomID string, l *roomLog) change {
	e.seq++
	return change{roomID: roomID, seq: e.seq, messages: l.snapshot(), observers: e.observerList()}
}

// notify hands c to the observers unless a newer snapshot of the room already went out.
func (e *Engine) notify(c change) {
	if c.roomID == "" {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if c.seq <= e.delivered[c.roomID] {
		e.logger.Debug("stale snapshot skipped", zap.String("room_id", c.roomID))
		return
	}
	e.delivered[c.roomID] = c.seq
	for _, fn := range c.observers {
		fn(c.roomID, c.messages)
	}
}
