package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawchat/internal/domain"
	pawchat_errors "pawchat/pkg/errors"
)

// Store keeps rooms and their messages in memory. It is the hub's source of truth.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*domain.ChatRoom
	byKey    map[domain.RoomKey]string
	messages map[string]*domain.ChatMessage
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*domain.ChatRoom),
		byKey:    make(map[domain.RoomKey]string),
		messages: make(map[string]*domain.ChatMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// JoinPrivateChat returns the room of the triple, creating it on first use. created
// reports whether this call made it.
func (s *Store) JoinPrivateChat(selfID, otherID, subjectID string) (room domain.ChatRoom, created bool, err error) {
	if selfID == "" || otherID == "" || subjectID == "" || selfID == otherID {
		return domain.ChatRoom{}, false, pawchat_errors.ErrInvalidInput
	}
	key := domain.NewRoomKey(selfID, otherID, subjectID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return s.roomCopyLocked(id), false, nil
	}
	r := &domain.ChatRoom{
		ID:           uuid.New().String(),
		ParticipantA: selfID,
		ParticipantB: otherID,
		SubjectID:    subjectID,
		CreatedAt:    s.now(),
	}
	s.rooms[r.ID] = r
	s.byKey[key] = r.ID
	return *r, true, nil
}

func (s *Store) Room(roomID string) (domain.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return domain.ChatRoom{}, pawchat_errors.ErrNotFound
	}
	return s.roomCopyLocked(roomID), nil
}

// RoomsOf lists the rooms userID participates in.
func (s *Store) RoomsOf(userID string) []domain.ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ChatRoom
	for id, r := range s.rooms {
		if r.HasParticipant(userID) {
			out = append(out, s.roomCopyLocked(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Send appends a message from selfID to otherID in roomID.
func (s *Store) Send(roomID, selfID, otherID, content string) (domain.ChatMessage, error) {
	if content == "" {
		return domain.ChatMessage{}, pawchat_errors.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.ChatMessage{}, pawchat_errors.ErrNotFound
	}
	if !r.HasParticipant(selfID) || !r.HasParticipant(otherID) || selfID == otherID {
		return domain.ChatMessage{}, pawchat_errors.ErrUnauthorized
	}
	m := &domain.ChatMessage{
		ID:          uuid.New().String(),
		ChatRoomID:  roomID,
		SenderID:    selfID,
		RecipientID: otherID,
		Content:     content,
		SentAt:      s.now(),
	}
	s.messages[m.ID] = m
	r.Messages = append(r.Messages, *m)
	return *m, nil
}

// AcknowledgeDelivery marks messageID delivered to recipientID. changed is false when
// it already was, so repeated acks are no-ops.
func (s *Store) AcknowledgeDelivery(messageID, recipientID string) (domain.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return domain.ChatMessage{}, false, pawchat_errors.ErrNotFound
	}
	if m.RecipientID != recipientID {
		return domain.ChatMessage{}, false, pawchat_errors.ErrUnauthorized
	}
	now := s.now()
	changed := m.MarkDelivered(&now)
	s.syncRoomLocked(m)
	return *m, changed, nil
}

// MarkAllDelivered marks every inbound undelivered message of userID delivered and
// returns those it changed.
func (s *Store) MarkAllDelivered(userID string) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var changed []domain.ChatMessage
	for _, m := range s.messages {
		if m.RecipientID == userID && m.MarkDelivered(&now) {
			s.syncRoomLocked(m)
			changed = append(changed, *m)
		}
	}
	sortBySentAt(changed)
	return changed
}

// Undelivered lists inbound messages of userID that no client acknowledged yet.
func (s *Store) Undelivered(userID string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.RecipientID == userID && !m.WasDelivered {
			out = append(out, *m)
		}
	}
	sortBySentAt(out)
	return out
}

// MarkSeen marks every unseen message sent to viewerID in roomID seen and returns them.
func (s *Store) MarkSeen(roomID, viewerID string) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, pawchat_errors.ErrNotFound
	}
	if !r.HasParticipant(viewerID) {
		return nil, pawchat_errors.ErrUnauthorized
	}
	now := s.now()
	var seen []domain.ChatMessage
	for i := range r.Messages {
		m := s.messages[r.Messages[i].ID]
		if m.RecipientID != viewerID || m.WasSeen {
			continue
		}
		m.MarkDelivered(&now)
		m.MarkSeen(viewerID)
		r.Messages[i] = *m
		seen = append(seen, *m)
	}
	return seen, nil
}

// Page returns one 1-indexed page of roomID. Page 1 holds the newest messages; each
// page is in ascending send order.
func (s *Store) Page(roomID string, page, pageSize int) ([]domain.ChatMessage, error) {
	if page < 1 || pageSize < 1 {
		return nil, pawchat_errors.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, pawchat_errors.ErrNotFound
	}
	end := len(r.Messages) - (page-1)*pageSize
	if end <= 0 {
		return []domain.ChatMessage{}, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	return append([]domain.ChatMessage(nil), r.Messages[start:end]...), nil
}

func (s *Store) Message(messageID string) (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return *m, true
}

// roomCopyLocked returns the room without its message log.
func (s *Store) roomCopyLocked(roomID string) domain.ChatRoom {
	r := *s.rooms[roomID]
	r.Messages = nil
	return r
}

func (s *Store) syncRoomLocked(m *domain.ChatMessage) {
	r, ok := s.rooms[m.ChatRoomID]
	if !ok {
		return
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].ID == m.ID {
			r.Messages[i] = *m
			return
		}
	}
}

func sortBySentAt(messages []domain.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].SentAt.Before(messages[j].SentAt) })
}
