package presence

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pawchat/internal/domain"
	"pawchat/internal/events"
)

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestPresence(ctx context.Context, roomID, otherID string) bool {
	return m.Called(ctx, roomID, otherID).Bool(0)
}

func TestRequestIsDebounced(t *testing.T) {
	clock := clockwork.NewFakeClock()
	req := &mockRequester{}
	req.On("RequestPresence", mock.Anything, "r1", "bob").Return(true)
	tr := NewTracker(req, clock, time.Second, nil)

	assert.True(t, tr.Request(context.Background(), "r1", "bob"))
	assert.False(t, tr.Request(context.Background(), "r1", "bob"))
	clock.Advance(500 * time.Millisecond)
	assert.False(t, tr.Request(context.Background(), "r1", "bob"))
	clock.Advance(500 * time.Millisecond)
	assert.True(t, tr.Request(context.Background(), "r1", "bob"))

	req.AssertNumberOfCalls(t, "RequestPresence", 2)
}

func TestPresenceAppliedToTrackedRoom(t *testing.T) {
	tr := NewTracker(&mockRequester{}, nil, 0, nil)
	tr.Track("r1", "bob")
	assert.False(t, tr.Snapshot("r1").Known)

	var notified []domain.PresenceSnapshot
	tr.Subscribe(func(roomID string, s domain.PresenceSnapshot) { notified = append(notified, s) })

	lastSeen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ok := tr.OnPresenceChanged(events.ActiveRoom{RoomID: "r1"}, &events.PresenceEvent{IsOnline: false, LastSeenAt: &lastSeen})
	require.True(t, ok)

	snap := tr.Snapshot("r1")
	assert.True(t, snap.Known)
	assert.False(t, snap.IsOnline)
	require.NotNil(t, snap.LastSeenAt)
	assert.Equal(t, lastSeen, *snap.LastSeenAt)
	assert.Len(t, notified, 1)

	tr.OnPresenceChanged(events.ActiveRoom{RoomID: "r1"}, &events.PresenceEvent{IsOnline: true})
	snap = tr.Snapshot("r1")
	assert.True(t, snap.IsOnline)
	assert.Nil(t, snap.LastSeenAt)
}

func TestStalePresenceIsDropped(t *testing.T) {
	tr := NewTracker(&mockRequester{}, nil, 0, nil)
	tr.Track("r2", "carol")

	assert.False(t, tr.OnPresenceChanged(events.ActiveRoom{RoomID: "r1"}, &events.PresenceEvent{IsOnline: true}))
	assert.False(t, tr.OnPresenceChanged(events.ActiveRoom{}, &events.PresenceEvent{IsOnline: true}))
	assert.False(t, tr.Snapshot("r2").Known)
}

func TestUntrackResetsToUnknown(t *testing.T) {
	tr := NewTracker(&mockRequester{}, nil, 0, nil)
	tr.Track("r1", "bob")
	tr.OnPresenceChanged(events.ActiveRoom{RoomID: "r1"}, &events.PresenceEvent{IsOnline: true})

	tr.Untrack("other")
	assert.True(t, tr.Snapshot("r1").Known)

	tr.Untrack("r1")
	assert.False(t, tr.Snapshot("r1").Known)
	assert.False(t, tr.OnPresenceChanged(events.ActiveRoom{RoomID: "r1"}, &events.PresenceEvent{IsOnline: true}))
}
