package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus is the stored online state of a user.
type PresenceStatus struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	ClientID string     `json:"client_id,omitempty"`
}

// PresenceStore tracks hub presence in Redis so several hub processes agree on it.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

const (
	presenceKeyPrefix = "presence:"        // JSON PresenceStatus per user
	presenceOnlineSet = "presence:online"  // set of online user IDs
	offlineRetention  = 7 * 24 * time.Hour // keep last_seen around for offline users
)

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl, prefix: presenceKeyPrefix}
}

// WithPrefix namespaces every key, e.g. per test run.
func (p *PresenceStore) WithPrefix(prefix string) *PresenceStore {
	cp := *p
	cp.prefix = prefix + presenceKeyPrefix
	return &cp
}

// SetOnline marks a user as online
func (p *PresenceStore) SetOnline(ctx context.Context, userID, clientID string) error {
	now := time.Now().UTC()
	status := PresenceStatus{
		UserID:   userID,
		IsOnline: true,
		LastSeen: &now,
		ClientID: clientID,
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.prefix+userID, data, p.ttl)
	pipe.SAdd(ctx, p.onlineSet(), userID)
	_, err = pipe.Exec(ctx)
	return err
}

// SetOffline marks a user as offline and records when they were last seen.
func (p *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	status := PresenceStatus{
		UserID:   userID,
		IsOnline: false,
		LastSeen: &now,
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.prefix+userID, data, offlineRetention)
	pipe.SRem(ctx, p.onlineSet(), userID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetPresence returns the stored status. A user never seen is offline with no
// LastSeen.
func (p *PresenceStore) GetPresence(ctx context.Context, userID string) (*PresenceStatus, error) {
	data, err := p.client.Get(ctx, p.prefix+userID).Result()
	if err == goredis.Nil {
		return &PresenceStatus{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	var status PresenceStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// IsOnline checks if a user is online
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.SIsMember(ctx, p.onlineSet(), userID).Result()
}

func (p *PresenceStore) onlineSet() string {
	return p.prefix[:len(p.prefix)-len(presenceKeyPrefix)] + presenceOnlineSet
}
