package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomKeyIsUnordered(t *testing.T) {
	assert.Equal(t, NewRoomKey("alice", "bob", "pet-42"), NewRoomKey("bob", "alice", "pet-42"))
	assert.NotEqual(t, NewRoomKey("alice", "bob", "pet-42"), NewRoomKey("alice", "bob", "pet-7"))
}

func TestChatRoomCounterpart(t *testing.T) {
	room := ChatRoom{ID: "r1", ParticipantA: "alice", ParticipantB: "bob"}

	assert.Equal(t, "bob", room.Counterpart("alice"))
	assert.Equal(t, "alice", room.Counterpart("bob"))
	assert.True(t, room.HasParticipant("bob"))
	assert.False(t, room.HasParticipant("carol"))
}

func TestMessageStatusProgression(t *testing.T) {
	msg := ChatMessage{ID: "m1"}
	assert.Equal(t, MessageStatusSent, msg.Status())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.True(t, msg.MarkDelivered(&at))
	assert.Equal(t, MessageStatusDelivered, msg.Status())

	later := at.Add(time.Hour)
	assert.False(t, msg.MarkDelivered(&later))
	assert.Equal(t, at, *msg.DeliveredAt)

	assert.True(t, msg.MarkSeen("bob"))
	assert.Equal(t, MessageStatusSeen, msg.Status())
	assert.False(t, msg.MarkSeen("bob"))
}

func TestSeenImpliesDelivered(t *testing.T) {
	msg := ChatMessage{ID: "m1"}
	msg.MarkSeen("bob")

	assert.True(t, msg.WasDelivered)
	assert.Equal(t, "bob", *msg.SeenByID)
}

func TestAbsorbNeverRegresses(t *testing.T) {
	msg := ChatMessage{ID: "m1"}
	msg.MarkSeen("bob")

	changed := msg.Absorb(ChatMessage{ID: "m1", WasDelivered: false, WasSeen: false})

	assert.False(t, changed)
	assert.True(t, msg.WasSeen)
	assert.True(t, msg.WasDelivered)
}
