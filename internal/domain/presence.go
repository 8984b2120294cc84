package domain

import "time"

// PresenceSnapshot is the last known online state of a room counterpart. The zero
// value means unknown.
type PresenceSnapshot struct {
	Known      bool       `json:"known"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
