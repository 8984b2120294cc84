package events

import (
	"fmt"
	"time"

	"pawchat/internal/domain"
)

// Event is a typed server push.
type Event interface {
	Name() string
	Arguments() []any
}

// MessageReceivedEvent carries a newly sent message, including the sender's own echo.
type MessageReceivedEvent struct {
	Message domain.ChatMessage
}

func (e *MessageReceivedEvent) Name() string    { return EventReceiveMessage }
func (e *MessageReceivedEvent) Arguments() []any { return []any{e.Message} }

// RoomUpdatedEvent announces a room that was created or received a new message.
type RoomUpdatedEvent struct {
	Room domain.ChatRoom
}

func (e *RoomUpdatedEvent) Name() string    { return EventNewMessage }
func (e *RoomUpdatedEvent) Arguments() []any { return []any{e.Room} }

type MessagesSeenEvent struct {
	RoomID       string
	SeenMessages []domain.ChatMessage
	ViewerID     string
}

func (e *MessagesSeenEvent) Name() string { return EventMessagesMarkedAsSeen }
func (e *MessagesSeenEvent) Arguments() []any {
	return []any{e.RoomID, e.SeenMessages, e.ViewerID}
}

// MessageIDs returns the IDs of the seen messages.
func (e *MessagesSeenEvent) MessageIDs() []string {
	ids := make([]string, 0, len(e.SeenMessages))
	for _, m := range e.SeenMessages {
		ids = append(ids, m.ID)
	}
	return ids
}

type MessageDeliveredEvent struct {
	MessageID   string
	RecipientID string
	Message     domain.ChatMessage
}

func (e *MessageDeliveredEvent) Name() string { return EventMessageDelivered }
func (e *MessageDeliveredEvent) Arguments() []any {
	return []any{e.MessageID, e.RecipientID, e.Message}
}

// PresenceEvent is pushed as UserOffline for both online and offline answers.
type PresenceEvent struct {
	IsOnline   bool
	LastSeenAt *time.Time
}

func (e *PresenceEvent) Name() string    { return EventUserOffline }
func (e *PresenceEvent) Arguments() []any { return []any{e.IsOnline, e.LastSeenAt} }

// DecodeEvent turns a push frame into its typed event.
func DecodeEvent(f Frame) (Event, error) {
	switch f.Target {
	case EventReceiveMessage:
		var e MessageReceivedEvent
		if err := f.Argument(0, &e.Message); err != nil {
			return nil, err
		}
		return &e, nil
	case EventNewMessage:
		var e RoomUpdatedEvent
		if err := f.Argument(0, &e.Room); err != nil {
			return nil, err
		}
		return &e, nil
	case EventMessagesMarkedAsSeen:
		var e MessagesSeenEvent
		if err := f.Argument(0, &e.RoomID); err != nil {
			return nil, err
		}
		if err := f.Argument(1, &e.SeenMessages); err != nil {
			return nil, err
		}
		if err := f.Argument(2, &e.ViewerID); err != nil {
			return nil, err
		}
		return &e, nil
	case EventMessageDelivered:
		var e MessageDeliveredEvent
		if err := f.Argument(0, &e.MessageID); err != nil {
			return nil, err
		}
		if err := f.Argument(1, &e.RecipientID); err != nil {
			return nil, err
		}
		if len(f.Arguments) > 2 {
			if err := f.Argument(2, &e.Message); err != nil {
				return nil, err
			}
		}
		return &e, nil
	case EventUserOffline:
		var e PresenceEvent
		if err := f.Argument(0, &e.IsOnline); err != nil {
			return nil, err
		}
		if len(f.Arguments) > 1 {
			if err := f.Argument(1, &e.LastSeenAt); err != nil {
				return nil, err
			}
		}
		return &e, nil
	}
	return nil, fmt.Errorf("unknown event %q", f.Target)
}
