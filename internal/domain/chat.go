package domain

import (
	"strings"
	"time"
)

// ChatRoom is a private two-party conversation about one subject entity (a pet listing).
type ChatRoom struct {
	ID           string        `json:"id"`
	ParticipantA string        `json:"participant_a"`
	ParticipantB string        `json:"participant_b"`
	SubjectID    string        `json:"subject_id"`
	CreatedAt    time.Time     `json:"created_at"`
	Messages     []ChatMessage `json:"messages,omitempty"`
}

// Key returns the unordered identity of the room.
func (r ChatRoom) Key() RoomKey {
	return NewRoomKey(r.ParticipantA, r.ParticipantB, r.SubjectID)
}

// Counterpart returns the participant that is not self.
func (r ChatRoom) Counterpart(self string) string {
	if r.ParticipantA == self {
		return r.ParticipantB
	}
	return r.ParticipantA
}

// HasParticipant reports whether userID is one of the two parties.
func (r ChatRoom) HasParticipant(userID string) bool {
	return r.ParticipantA == userID || r.ParticipantB == userID
}

// RoomKey identifies a room by {unordered participant pair, subject}.
type RoomKey struct {
	Low       string
	High      string
	SubjectID string
}

func NewRoomKey(a, b, subjectID string) RoomKey {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return RoomKey{Low: a, High: b, SubjectID: subjectID}
}

func (k RoomKey) String() string {
	return k.Low + "|" + k.High + "|" + k.SubjectID
}
