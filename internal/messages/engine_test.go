package messages

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pawchat/internal/domain"
	"pawchat/internal/events"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, bool) {
	ret := m.Called(ctx, method, args)
	raw, _ := ret.Get(0).(json.RawMessage)
	return raw, ret.Bool(1)
}

func (m *mockInvoker) Send(ctx context.Context, method string, args ...any) bool {
	return m.Called(ctx, method, args).Bool(0)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, room, from, to string, offset time.Duration) domain.ChatMessage {
	return domain.ChatMessage{ID: id, ChatRoomID: room, SenderID: from, RecipientID: to, Content: "hi " + id, SentAt: base.Add(offset)}
}

func ids(messages []domain.ChatMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func newEngine(calls Invoker, self string, clock clockwork.Clock) *Engine {
	return NewEngine(calls, Options{SelfID: self, Clock: clock})
}

func TestSendMessageDoesNotInsertLocally(t *testing.T) {
	calls := &mockInvoker{}
	calls.On("Invoke", mock.Anything, events.MethodSendMessage, []any{"r1", "alice", "bob", "Hello"}).Return(nil, true)
	e := newEngine(calls, "alice", nil)
	e.Hold("r1")

	assert.True(t, e.SendMessage(context.Background(), "r1", "alice", "bob", "Hello"))
	assert.Empty(t, e.Messages("r1"))
	assert.False(t, e.SendMessage(context.Background(), "r1", "alice", "bob", "   "))
	calls.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestReceiveDedupesAndAcksOnce(t *testing.T) {
	calls := &mockInvoker{}
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, []any{"m1", "bob"}).Return(true)
	e := newEngine(calls, "bob", nil)
	e.Hold("r1")
	m := msg("m1", "r1", "alice", "bob", 0)

	assert.True(t, e.OnMessageReceived(context.Background(), m))
	assert.False(t, e.OnMessageReceived(context.Background(), m))

	assert.Equal(t, []string{"m1"}, ids(e.Messages("r1")))
	calls.AssertNumberOfCalls(t, "Send", 1)
}

func TestReceiveOwnEchoIsNotAcked(t *testing.T) {
	calls := &mockInvoker{}
	e := newEngine(calls, "alice", nil)
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))

	assert.Len(t, e.Messages("r1"), 1)
	calls.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiveForUnheldRoomStillAcks(t *testing.T) {
	calls := &mockInvoker{}
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, []any{"m1", "bob"}).Return(true)
	e := newEngine(calls, "bob", nil)

	assert.False(t, e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0)))
	assert.Nil(t, e.Messages("r1"))
	calls.AssertExpectations(t)
}

func TestFailedAckIsRetriedOnRedelivery(t *testing.T) {
	calls := &mockInvoker{}
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, mock.Anything).Return(false).Once()
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, mock.Anything).Return(true).Once()
	e := newEngine(calls, "bob", nil)
	m := msg("m1", "r1", "alice", "bob", 0)

	e.OnMessageReceived(context.Background(), m)
	e.OnMessageReceived(context.Background(), m)
	e.OnMessageReceived(context.Background(), m)

	calls.AssertNumberOfCalls(t, "Send", 2)
}

func TestHistoryMergeDedupesAgainstPushes(t *testing.T) {
	calls := &mockInvoker{}
	e := newEngine(calls, "alice", nil)
	e.Hold("r1")

	// push races ahead of the history page that also contains it
	e.OnMessageReceived(context.Background(), msg("m3", "r1", "alice", "bob", 3*time.Second))
	added := e.MergeHistory("r1", []domain.ChatMessage{
		msg("m1", "r1", "alice", "bob", time.Second),
		msg("m2", "r1", "bob", "alice", 2*time.Second),
		msg("m3", "r1", "alice", "bob", 3*time.Second),
		msg("x1", "other", "bob", "alice", 0),
	})

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(e.Messages("r1")))
}

func TestHistoryMergeAbsorbsNewerState(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	e.MergeHistory("r1", []domain.ChatMessage{msg("m1", "r1", "alice", "bob", 0)})

	seen := msg("m1", "r1", "alice", "bob", 0)
	seen.WasSeen = true
	e.MergeHistory("r1", []domain.ChatMessage{seen})

	stale := msg("m1", "r1", "alice", "bob", 0)
	e.MergeHistory("r1", []domain.ChatMessage{stale})

	got := e.Messages("r1")[0]
	assert.Equal(t, domain.MessageStatusSeen, got.Status())
	assert.True(t, got.WasDelivered)
}

func TestDeliveryAck(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	at := base.Add(time.Minute)

	assert.True(t, e.OnDeliveryAck("m1", "bob", domain.ChatMessage{ID: "m1", DeliveredAt: &at}))
	assert.False(t, e.OnDeliveryAck("m1", "bob", domain.ChatMessage{ID: "m1", DeliveredAt: &at}))
	assert.False(t, e.OnDeliveryAck("missing", "bob", domain.ChatMessage{}))

	got := e.Messages("r1")[0]
	assert.True(t, got.WasDelivered)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, at, *got.DeliveredAt)
}

func TestSeenNeverRegresses(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))

	assert.Equal(t, 1, e.OnSeenAck("r1", []string{"m1"}, "bob"))
	e.OnDeliveryAck("m1", "bob", domain.ChatMessage{ID: "m1", WasDelivered: false})
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))

	got := e.Messages("r1")[0]
	assert.Equal(t, domain.MessageStatusSeen, got.Status())
	assert.True(t, got.WasDelivered)
	require.NotNil(t, got.SeenByID)
	assert.Equal(t, "bob", *got.SeenByID)
}

func TestSeenAckIsRoomScoped(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("x")
	e.Hold("y")
	e.OnMessageReceived(context.Background(), msg("mx", "x", "alice", "bob", 0))
	e.OnMessageReceived(context.Background(), msg("my", "y", "alice", "carol", 0))

	assert.Equal(t, 0, e.OnSeenAck("x", []string{"my"}, "carol"))
	assert.Equal(t, 0, e.OnSeenAck("z", []string{"mx", "my"}, "bob"))

	assert.False(t, e.Messages("x")[0].WasSeen)
	assert.False(t, e.Messages("y")[0].WasSeen)
}

func TestOrderingBySentAtThenArrival(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m2", "r1", "alice", "bob", 2*time.Second))
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", time.Second))
	e.OnMessageReceived(context.Background(), msg("m2b", "r1", "alice", "bob", 2*time.Second))

	assert.Equal(t, []string{"m1", "m2", "m2b"}, ids(e.Messages("r1")))
	// index survives mid-slice inserts
	assert.True(t, e.OnDeliveryAck("m2", "bob", domain.ChatMessage{}))
	assert.True(t, e.Messages("r1")[1].WasDelivered)
}

func TestMarkVisibleAsSeen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := &mockInvoker{}
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, mock.Anything).Return(true)
	calls.On("Invoke", mock.Anything, events.MethodMarkMessagesAsSeen, []any{"r1", "bob"}).Return(nil, true)
	e := newEngine(calls, "bob", clock)
	e.Hold("r1")

	_, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok, "nothing unseen, no call")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	e.OnMessageReceived(context.Background(), msg("m2", "r1", "alice", "bob", time.Second))
	e.OnMessageReceived(context.Background(), msg("m3", "r1", "bob", "alice", 2*time.Second))

	covered, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, covered)

	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok, "debounced")

	calls.AssertNumberOfCalls(t, "Invoke", 1)
}

// seenCounter answers every seen call with ok and counts them.
func seenCounter(calls *mockInvoker, ok bool) *atomic.Int32 {
	var n atomic.Int32
	calls.On("Send", mock.Anything, events.MethodAcknowledgeDelivery, mock.Anything).Return(true)
	calls.On("Invoke", mock.Anything, events.MethodMarkMessagesAsSeen, []any{"r1", "bob"}).
		Run(func(mock.Arguments) { n.Add(1) }).Return(nil, ok)
	return &n
}

func TestDebouncedSeenCheckRunsAfterInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := &mockInvoker{}
	n := seenCounter(calls, true)
	e := newEngine(calls, "bob", clock)
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	_, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.True(t, ok)

	clock.Advance(200 * time.Millisecond)
	e.OnMessageReceived(context.Background(), msg("m2", "r1", "alice", "bob", time.Second))
	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok)
	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), n.Load())

	clock.Advance(800 * time.Millisecond)
	assert.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return n.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDebouncedSeenCheckSkipsHiddenRoom(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := &mockInvoker{}
	n := seenCounter(calls, true)
	var visible atomic.Bool
	visible.Store(true)
	e := NewEngine(calls, Options{SelfID: "bob", Clock: clock, Visible: func(string) bool { return visible.Load() }})
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	_, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.True(t, ok)
	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.False(t, ok)

	visible.Store(false)
	clock.Advance(DefaultSeenInterval)
	assert.Never(t, func() bool { return n.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReleasedRoomDropsDebouncedSeenCheck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := &mockInvoker{}
	n := seenCounter(calls, true)
	e := newEngine(calls, "bob", clock)
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	_, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.True(t, ok)
	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	require.False(t, ok)

	e.Release("r1")
	clock.Advance(DefaultSeenInterval)
	assert.Never(t, func() bool { return n.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestFailedSeenCallDoesNotDebounce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := &mockInvoker{}
	n := seenCounter(calls, false)
	e := newEngine(calls, "bob", clock)
	e.Hold("r1")

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	_, ok := e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok)
	_, ok = e.MarkVisibleAsSeen(context.Background(), "r1", "bob")
	assert.False(t, ok)

	assert.Equal(t, int32(2), n.Load())
}

func TestObserversSeeStatusesInOrder(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var mu sync.Mutex
	var observed []domain.MessageStatus
	first := true
	e.Subscribe(func(_ string, messages []domain.ChatMessage) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()
		if block {
			close(entered)
			<-unblock
		}
		mu.Lock()
		observed = append(observed, messages[0].Status())
		mu.Unlock()
	})

	delivered := msg("m1", "r1", "alice", "bob", 0)
	delivered.WasDelivered = true
	historyDone := make(chan struct{})
	go func() {
		e.MergeHistory("r1", []domain.ChatMessage{delivered})
		close(historyDone)
	}()
	<-entered

	seenDone := make(chan struct{})
	go func() {
		e.OnSeenAck("r1", []string{"m1"}, "bob")
		close(seenDone)
	}()
	// the seen snapshot waits for the delivered one to be handed out
	assert.Never(t, func() bool {
		select {
		case <-seenDone:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(unblock)
	<-historyDone
	<-seenDone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.MessageStatus{domain.MessageStatusDelivered, domain.MessageStatusSeen}, observed)
	assert.Equal(t, domain.MessageStatusSeen, e.Messages("r1")[0].Status())
}

func TestStaleSnapshotIsNotDelivered(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	var got []uint64
	e.Subscribe(func(_ string, messages []domain.ChatMessage) {
		got = append(got, uint64(len(messages)))
	})

	e.mu.Lock()
	l := e.rooms["r1"]
	l.insert(msg("m1", "r1", "alice", "bob", 0))
	older := e.changedLocked("r1", l)
	l.insert(msg("m2", "r1", "alice", "bob", time.Second))
	newer := e.changedLocked("r1", l)
	e.mu.Unlock()

	e.notify(newer)
	e.notify(older)

	assert.Equal(t, []uint64{2}, got)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	var got [][]string
	remove := e.Subscribe(func(roomID string, messages []domain.ChatMessage) {
		assert.Equal(t, "r1", roomID)
		got = append(got, ids(messages))
	})

	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))
	remove()
	e.OnMessageReceived(context.Background(), msg("m2", "r1", "alice", "bob", time.Second))

	assert.Equal(t, [][]string{{"m1"}}, got)
}

func TestReleaseAndReset(t *testing.T) {
	e := newEngine(&mockInvoker{}, "alice", nil)
	e.Hold("r1")
	e.Hold("r2")
	e.OnMessageReceived(context.Background(), msg("m1", "r1", "alice", "bob", 0))

	e.Release("r1")
	assert.False(t, e.Holds("r1"))
	assert.True(t, e.Holds("r2"))

	e.Reset()
	assert.False(t, e.Holds("r2"))
}
