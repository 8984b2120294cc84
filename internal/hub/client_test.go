package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pawchat/internal/events"
)

func TestClientRateLimiterBucketsPerClass(t *testing.T) {
	rl := NewClientRateLimiter(RateLimits{MaxSends: 2, MaxAcks: 1, MaxPresence: 0, MaxSession: 1})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, rl.allowAt(events.MethodSendMessage, now))
	assert.True(t, rl.allowAt(events.MethodSendMessage, now))
	assert.False(t, rl.allowAt(events.MethodSendMessage, now))

	assert.True(t, rl.allowAt(events.MethodMarkMessagesAsSeen, now))
	assert.False(t, rl.allowAt(events.MethodAcknowledgeDelivery, now), "acks share one bucket")
	assert.False(t, rl.allowAt(events.MethodOnlineStatus, now), "zero allowance refuses")
	assert.True(t, rl.allowAt("SomethingElse", now))

	// two sends a minute refill one every thirty seconds
	later := now.Add(31 * time.Second)
	assert.True(t, rl.allowAt(events.MethodSendMessage, later))
	assert.False(t, rl.allowAt(events.MethodSendMessage, later))
}
