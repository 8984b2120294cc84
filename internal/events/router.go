package events

import (
	"sync"

	"go.uber.org/zap"

	"pawchat/internal/metrics"
)

// ActiveRoom is the conversation currently open on screen. The zero value means no
// room is open.
type ActiveRoom struct {
	RoomID  string
	SelfID  string
	OtherID string
	Focused bool
}

func (a ActiveRoom) IsOpen() bool {
	return a.RoomID != ""
}

// Matches reports whether roomID is the open room.
func (a ActiveRoom) Matches(roomID string) bool {
	return a.RoomID != "" && a.RoomID == roomID
}

// Handler receives a push together with the active room at dispatch time.
type Handler func(active ActiveRoom, event Event)

type ListenerID uint64

type listener struct {
	id      ListenerID
	handler Handler
}

// Router fans pushes from the single shared connection out to registered listeners.
// Listeners run synchronously on the dispatching goroutine, in registration order.
type Router struct {
	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    ListenerID
	active    ActiveRoom
	logger    *zap.Logger
	metrics   *metrics.Client
}

func NewRouter(logger *zap.Logger, m *metrics.Client) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		listeners: make(map[string][]listener),
		logger:    logger.With(zap.String("component", "router")),
		metrics:   m,
	}
}

// On registers handler for the named event and returns the id needed to remove it.
func (r *Router) On(name string, handler Handler) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[name] = append(r.listeners[name], listener{id: id, handler: handler})
	return id
}

// Off removes a listener. Removing an unknown id is a no-op.
func (r *Router) Off(name string, id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.listeners[name]
	for i, l := range current {
		if l.id == id {
			next := make([]listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(r.listeners, name)
			} else {
				r.listeners[name] = next
			}
			return
		}
	}
}

// Reset removes every listener and clears the active room.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[string][]listener)
	r.active = ActiveRoom{}
}

func (r *Router) ListenerCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[name])
}

func (r *Router) SetActiveRoom(active ActiveRoom) {
	r.mu.Lock()
	r.active = active
	r.mu.Unlock()
}

// SetFocused toggles focus of the active room if it is still roomID.
func (r *Router) SetFocused(roomID string, focused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active.Matches(roomID) {
		r.active.Focused = focused
	}
}

// ClearActiveRoom clears the active room only if it is still roomID, so a late
// unmount cannot clobber a newer room.
func (r *Router) ClearActiveRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active.Matches(roomID) {
		r.active = ActiveRoom{}
	}
}

func (r *Router) ActiveRoom() ActiveRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// DispatchFrame decodes a push frame and publishes it. Undecodable frames are dropped.
func (r *Router) DispatchFrame(f Frame) {
	event, err := DecodeEvent(f)
	if err != nil {
		r.logger.Warn("dropping undecodable push", zap.String("target", f.Target), zap.Error(err))
		return
	}
	r.Publish(event)
}

// Publish delivers event to every listener registered for its name.
func (r *Router) Publish(event Event) {
	r.mu.RLock()
	active := r.active
	current := r.listeners[event.Name()]
	handlers := make([]Handler, 0, len(current))
	for _, l := range current {
		handlers = append(handlers, l.handler)
	}
	r.mu.RUnlock()

	r.metrics.IncEvent(event.Name())
	for _, h := range handlers {
		h(active, event)
	}
}
