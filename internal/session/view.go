package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pawchat/internal/domain"
	"pawchat/internal/events"
)

// RoomView is one mounted conversation screen. It owns the room-scoped listeners and
// releases them on Close.
type RoomView struct {
	s       *Session
	room    domain.ChatRoom
	otherID string

	mu         sync.Mutex
	presenceID events.ListenerID
	page       int
	exhausted  bool
	closed     bool
}

// OpenRoom mounts the conversation with otherID about subjectID. Only the pair and
// subject are needed, so a notification tap can open a room whose ID it never saw.
// It returns false while the connection is not ready; the caller retries once the
// state changes.
func (s *Session) OpenRoom(ctx context.Context, otherID, subjectID string) (*RoomView, bool) {
	r, ok := s.rooms.JoinRoom(ctx, s.self, otherID, subjectID)
	if !ok {
		return nil, false
	}

	// hold before the history fetch so pushes racing it are kept and deduped
	s.messages.Hold(r.ID)
	s.router.SetActiveRoom(events.ActiveRoom{RoomID: r.ID, SelfID: s.self, OtherID: otherID})
	s.presence.Track(r.ID, otherID)

	v := &RoomView{s: s, room: r, otherID: otherID}
	v.presenceID = s.router.On(events.EventUserOffline, func(active events.ActiveRoom, ev events.Event) {
		s.presence.OnPresenceChanged(active, ev.(*events.PresenceEvent))
	})

	s.rooms.SubscribeToRoomGroup(ctx, r.ID)
	if page, ok := s.rooms.FetchHistory(ctx, r.ID, 1, 0); ok {
		v.mu.Lock()
		v.page = 1
		v.exhausted = len(page) < s.rooms.PageSize()
		v.mu.Unlock()
		s.messages.MergeHistory(r.ID, page)
	}
	s.presence.Request(ctx, r.ID, otherID)

	s.logger.Info("room opened", zap.String("room_id", r.ID), zap.String("other_id", otherID))
	return v, true
}

func (v *RoomView) Room() domain.ChatRoom {
	return v.room
}

func (v *RoomView) ID() string {
	return v.room.ID
}

// Focus marks the view focused, refreshes presence and acknowledges every unseen
// inbound message with a single seen call. It runs on every focus gain.
func (v *RoomView) Focus(ctx context.Context) ([]string, bool) {
	if v.isClosed() {
		return nil, false
	}
	v.s.router.SetFocused(v.room.ID, true)
	v.s.presence.Request(ctx, v.room.ID, v.otherID)
	return v.s.messages.MarkVisibleAsSeen(ctx, v.room.ID, v.s.self)
}

func (v *RoomView) Unfocus() {
	v.s.router.SetFocused(v.room.ID, false)
}

// LoadOlder fetches the next history page and returns how many messages it added.
func (v *RoomView) LoadOlder(ctx context.Context) (int, bool) {
	v.mu.Lock()
	if v.closed || v.exhausted {
		v.mu.Unlock()
		return 0, false
	}
	next := v.page + 1
	v.mu.Unlock()

	page, ok := v.s.rooms.FetchHistory(ctx, v.room.ID, next, 0)
	if !ok {
		return 0, false
	}
	v.mu.Lock()
	if next > v.page {
		v.page = next
	}
	if len(page) < v.s.rooms.PageSize() {
		v.exhausted = true
	}
	v.mu.Unlock()
	return v.s.messages.MergeHistory(v.room.ID, page), true
}

// Send sends content to the counterpart. It appears in Messages once the hub echoes it.
func (v *RoomView) Send(ctx context.Context, content string) bool {
	if v.isClosed() {
		return false
	}
	return v.s.messages.SendMessage(ctx, v.room.ID, v.s.self, v.otherID, content)
}

func (v *RoomView) Messages() []domain.ChatMessage {
	return v.s.messages.Messages(v.room.ID)
}

func (v *RoomView) Presence() domain.PresenceSnapshot {
	return v.s.presence.Snapshot(v.room.ID)
}

// OnMessages registers fn for changes to this room's messages.
func (v *RoomView) OnMessages(fn func(messages []domain.ChatMessage)) func() {
	roomID := v.room.ID
	return v.s.messages.Subscribe(func(changed string, messages []domain.ChatMessage) {
		if changed == roomID {
			fn(messages)
		}
	})
}

// OnPresence registers fn for presence changes of this room's counterpart.
func (v *RoomView) OnPresence(fn func(snapshot domain.PresenceSnapshot)) func() {
	roomID := v.room.ID
	return v.s.presence.Subscribe(func(changed string, snapshot domain.PresenceSnapshot) {
		if changed == roomID {
			fn(snapshot)
		}
	})
}

// Close unmounts the view. A late Close never clears a newer room.
func (v *RoomView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.s.router.Off(events.EventUserOffline, v.presenceID)
	v.s.presence.Untrack(v.room.ID)
	v.s.router.ClearActiveRoom(v.room.ID)
	v.s.messages.Release(v.room.ID)
	v.s.logger.Info("room closed", zap.String("room_id", v.room.ID))
}

func (v *RoomView) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
