package domain

import (
	"time"
)

// ChatMessage mirrors a server-owned message. IDs are assigned by the hub and are
// globally unique.
type ChatMessage struct {
	ID           string     `json:"id"`
	ChatRoomID   string     `json:"chat_room_id"`
	SenderID     string     `json:"sender_id"`
	RecipientID  string     `json:"recipient_id"`
	Content      string     `json:"content"`
	SentAt       time.Time  `json:"sent_at"`
	WasDelivered bool       `json:"was_delivered"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	WasSeen      bool       `json:"was_seen"`
	SeenByID     *string    `json:"seen_by_clerk_id,omitempty"`
}

// Status derives the delivery stage. A seen message counts as delivered.
func (m ChatMessage) Status() MessageStatus {
	switch {
	case m.WasSeen:
		return MessageStatusSeen
	case m.WasDelivered:
		return MessageStatusDelivered
	default:
		return MessageStatusSent
	}
}

// MarkDelivered advances the message to Delivered. The first delivery timestamp wins.
// It reports whether anything changed.
func (m *ChatMessage) MarkDelivered(at *time.Time) bool {
	changed := false
	if !m.WasDelivered {
		m.WasDelivered = true
		changed = true
	}
	if m.DeliveredAt == nil && at != nil {
		t := *at
		m.DeliveredAt = &t
		changed = true
	}
	return changed
}

// MarkSeen advances the message to Seen, which also implies Delivered.
func (m *ChatMessage) MarkSeen(viewerID string) bool {
	changed := false
	if !m.WasDelivered {
		m.WasDelivered = true
		changed = true
	}
	if !m.WasSeen {
		m.WasSeen = true
		changed = true
	}
	if m.SeenByID == nil && viewerID != "" {
		v := viewerID
		m.SeenByID = &v
		changed = true
	}
	return changed
}

// Absorb folds the state carried by other (same ID) into m without ever regressing.
func (m *ChatMessage) Absorb(other ChatMessage) bool {
	changed := false
	if other.WasDelivered || other.DeliveredAt != nil {
		if m.MarkDelivered(other.DeliveredAt) {
			changed = true
		}
	}
	if other.WasSeen {
		viewer := ""
		if other.SeenByID != nil {
			viewer = *other.SeenByID
		}
		if m.MarkSeen(viewer) {
			changed = true
		}
	}
	return changed
}
