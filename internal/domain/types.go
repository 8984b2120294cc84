package domain

// MessageStatus is the delivery stage of a ChatMessage. Stages only move forward.
type MessageStatus int

const (
	MessageStatusSent MessageStatus = iota
	MessageStatusDelivered
	MessageStatusSeen
)

func (s MessageStatus) String() string {
	switch s {
	case MessageStatusSent:
		return "SENT"
	case MessageStatusDelivered:
		return "DELIVERED"
	case MessageStatusSeen:
		return "SEEN"
	default:
		return "UNKNOWN"
	}
}

// DefaultPageSize is the history page size used when callers pass zero.
const DefaultPageSize = 50
