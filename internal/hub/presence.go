package hub

import (
	"context"
	"sync"
	"time"

	chatredis "pawchat/internal/redis"
)

// PresenceStore records when users come and go. The hub calls SetOffline only when a
// user's last connection ends.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID, clientID string) error
	SetOffline(ctx context.Context, userID string) error
	GetPresence(ctx context.Context, userID string) (*chatredis.PresenceStatus, error)
}

// MemoryPresence is a process-local PresenceStore.
type MemoryPresence struct {
	mu       sync.RWMutex
	statuses map[string]chatredis.PresenceStatus
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{statuses: make(map[string]chatredis.PresenceStatus)}
}

func (p *MemoryPresence) SetOnline(_ context.Context, userID, clientID string) error {
	now := time.Now().UTC()
	p.mu.Lock()
	p.statuses[userID] = chatredis.PresenceStatus{UserID: userID, IsOnline: true, LastSeen: &now, ClientID: clientID}
	p.mu.Unlock()
	return nil
}

func (p *MemoryPresence) SetOffline(_ context.Context, userID string) error {
	now := time.Now().UTC()
	p.mu.Lock()
	p.statuses[userID] = chatredis.PresenceStatus{UserID: userID, LastSeen: &now}
	p.mu.Unlock()
	return nil
}

func (p *MemoryPresence) GetPresence(_ context.Context, userID string) (*chatredis.PresenceStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.statuses[userID]
	if !ok {
		return &chatredis.PresenceStatus{UserID: userID}, nil
	}
	return &status, nil
}
