package hub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pawchat/internal/domain"
	"pawchat/internal/events"
	pawchat_errors "pawchat/pkg/errors"
)

const presenceLookupTimeout = 2 * time.Second

// dispatch runs one invocation for c and returns the completion result.
func (h *Hub) dispatch(c *Client, f events.Frame) (result any, err error) {
	defer func() {
		h.metrics.IncInvocation(methodLabel(f.Target), outcome(err))
		if err != nil {
			h.logger.Debug("invocation failed", c.userID, c.clientID,
				zap.String("method", f.Target), zap.Error(err))
		}
	}()

	switch f.Target {
	case events.MethodJoinAllUserRooms:
		return nil, h.joinAllUserRooms(c, f)
	case events.MethodMarkAllMessagesAsDelivered:
		return nil, h.markAllDelivered(c, f)
	case events.MethodJoinPrivateChat:
		return h.joinPrivateChat(c, f)
	case events.MethodJoinRoomGroup:
		return nil, h.joinRoomGroup(c, f)
	case events.MethodGetMessages:
		return h.getMessages(c, f)
	case events.MethodSendMessage:
		return h.sendMessage(c, f)
	case events.MethodAcknowledgeDelivery:
		return nil, h.acknowledgeDelivery(c, f)
	case events.MethodMarkMessagesAsSeen:
		return h.markSeen(c, f)
	case events.MethodOnlineStatus:
		return nil, h.onlineStatus(c, f)
	}
	return nil, fmt.Errorf("unknown method %q: %w", f.Target, pawchat_errors.ErrInvalidInput)
}

var knownMethods = map[string]struct{}{
	events.MethodJoinAllUserRooms:           {},
	events.MethodMarkAllMessagesAsDelivered: {},
	events.MethodJoinPrivateChat:            {},
	events.MethodJoinRoomGroup:              {},
	events.MethodGetMessages:                {},
	events.MethodSendMessage:                {},
	events.MethodAcknowledgeDelivery:        {},
	events.MethodMarkMessagesAsSeen:         {},
	events.MethodOnlineStatus:               {},
}

// methodLabel keeps client-chosen targets out of metric labels.
func methodLabel(target string) string {
	if _, ok := knownMethods[target]; ok {
		return target
	}
	return "unknown"
}

// caller reads argument i as a user ID and checks it is the authenticated identity.
func caller(c *Client, f events.Frame, i int) error {
	var userID string
	if err := f.Argument(i, &userID); err != nil {
		return fmt.Errorf("%v: %w", err, pawchat_errors.ErrInvalidInput)
	}
	if userID != c.userID {
		return pawchat_errors.ErrUnauthorized
	}
	return nil
}

func stringArgs(f events.Frame, dst ...*string) error {
	for i, d := range dst {
		if err := f.Argument(i, d); err != nil {
			return fmt.Errorf("%v: %w", err, pawchat_errors.ErrInvalidInput)
		}
	}
	return nil
}

// participantRoom loads roomID and checks the caller belongs to it.
func (h *Hub) participantRoom(c *Client, roomID string) (domain.ChatRoom, error) {
	room, err := h.store.Room(roomID)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	if !room.HasParticipant(c.userID) {
		return domain.ChatRoom{}, pawchat_errors.ErrUnauthorized
	}
	return room, nil
}

func (h *Hub) joinAllUserRooms(c *Client, f events.Frame) error {
	if err := caller(c, f, 0); err != nil {
		return err
	}
	rooms := h.store.RoomsOf(c.userID)
	h.mu.Lock()
	for _, r := range rooms {
		h.joinLocked(c, events.RoomGroup(r.ID))
	}
	h.mu.Unlock()

	pending := h.store.Undelivered(c.userID)
	for _, m := range pending {
		h.pushTo(c, &events.MessageReceivedEvent{Message: m})
	}
	h.logger.Debug("joined user rooms", c.userID, c.clientID,
		zap.Int("rooms", len(rooms)), zap.Int("replayed", len(pending)))
	return nil
}

func (h *Hub) markAllDelivered(c *Client, f events.Frame) error {
	if err := caller(c, f, 0); err != nil {
		return err
	}
	for _, m := range h.store.MarkAllDelivered(c.userID) {
		h.publish(&events.MessageDeliveredEvent{MessageID: m.ID, RecipientID: m.RecipientID, Message: m})
	}
	return nil
}

func (h *Hub) joinPrivateChat(c *Client, f events.Frame) (domain.ChatRoom, error) {
	var selfID, otherID, subjectID string
	if err := stringArgs(f, &selfID, &otherID, &subjectID); err != nil {
		return domain.ChatRoom{}, err
	}
	if selfID != c.userID {
		return domain.ChatRoom{}, pawchat_errors.ErrUnauthorized
	}
	room, created, err := h.store.JoinPrivateChat(selfID, otherID, subjectID)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	if created {
		h.logger.Info("room created", c.userID, c.clientID, zap.String("room_id", room.ID))
		h.publish(&events.RoomUpdatedEvent{Room: room})
	}
	return room, nil
}

func (h *Hub) joinRoomGroup(c *Client, f events.Frame) error {
	var roomID string
	if err := stringArgs(f, &roomID); err != nil {
		return err
	}
	if _, err := h.participantRoom(c, roomID); err != nil {
		return err
	}
	h.join(c, events.RoomGroup(roomID))
	return nil
}

func (h *Hub) getMessages(c *Client, f events.Frame) ([]domain.ChatMessage, error) {
	var roomID string
	var page, pageSize int
	if err := f.Argument(0, &roomID); err != nil {
		return nil, fmt.Errorf("%v: %w", err, pawchat_errors.ErrInvalidInput)
	}
	if err := f.Argument(1, &page); err != nil {
		return nil, fmt.Errorf("%v: %w", err, pawchat_errors.ErrInvalidInput)
	}
	if err := f.Argument(2, &pageSize); err != nil {
		return nil, fmt.Errorf("%v: %w", err, pawchat_errors.ErrInvalidInput)
	}
	if _, err := h.participantRoom(c, roomID); err != nil {
		return nil, err
	}
	return h.store.Page(roomID, page, pageSize)
}

func (h *Hub) sendMessage(c *Client, f events.Frame) (domain.ChatMessage, error) {
	var roomID, selfID, otherID, content string
	if err := stringArgs(f, &roomID, &selfID, &otherID, &content); err != nil {
		return domain.ChatMessage{}, err
	}
	if selfID != c.userID {
		return domain.ChatMessage{}, pawchat_errors.ErrUnauthorized
	}
	msg, err := h.store.Send(roomID, selfID, otherID, content)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	room, err := h.store.Room(roomID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	h.publish(&events.MessageReceivedEvent{Message: msg})
	h.publish(&events.RoomUpdatedEvent{Room: room})
	return msg, nil
}

func (h *Hub) acknowledgeDelivery(c *Client, f events.Frame) error {
	var messageID string
	if err := stringArgs(f, &messageID); err != nil {
		return err
	}
	if err := caller(c, f, 1); err != nil {
		return err
	}
	msg, changed, err := h.store.AcknowledgeDelivery(messageID, c.userID)
	if err != nil {
		return err
	}
	if changed {
		h.publish(&events.MessageDeliveredEvent{MessageID: msg.ID, RecipientID: msg.RecipientID, Message: msg})
	}
	return nil
}

func (h *Hub) markSeen(c *Client, f events.Frame) ([]domain.ChatMessage, error) {
	var roomID string
	if err := stringArgs(f, &roomID); err != nil {
		return nil, err
	}
	if err := caller(c, f, 1); err != nil {
		return nil, err
	}
	seen, err := h.store.MarkSeen(roomID, c.userID)
	if err != nil {
		return nil, err
	}
	if len(seen) > 0 {
		h.publish(&events.MessagesSeenEvent{RoomID: roomID, SeenMessages: seen, ViewerID: c.userID})
	}
	return seen, nil
}

func (h *Hub) onlineStatus(c *Client, f events.Frame) error {
	var roomID, otherID string
	if err := stringArgs(f, &roomID, &otherID); err != nil {
		return err
	}
	room, err := h.participantRoom(c, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(otherID) || otherID == c.userID {
		return pawchat_errors.ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceLookupTimeout)
	defer cancel()
	status, err := h.presence.GetPresence(ctx, otherID)
	if err != nil {
		return fmt.Errorf("get presence: %w", err)
	}
	h.pushTo(c, &events.PresenceEvent{IsOnline: status.IsOnline, LastSeenAt: status.LastSeen})
	return nil
}
