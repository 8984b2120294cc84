package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pawchat/internal/events"
	"pawchat/internal/metrics"
	pawchat_errors "pawchat/pkg/errors"
)

var errRateLimited = pawchat_errors.ErrRateLimited

const maxConnectionsPerUser = 10

// Hub maintains the active clients and their broadcast groups. Every client is in its
// own user group; room groups are joined on request.
type Hub struct {
	store    *Store
	presence PresenceStore
	resolver events.AudienceResolver
	logger   *WebSocketLogger
	metrics  *metrics.Hub
	limits   RateLimits

	mu      sync.RWMutex
	clients map[string]map[string]*Client
	groups  map[string]map[*Client]struct{}
}

type Options struct {
	Store      *Store
	Presence   PresenceStore
	Logger     *zap.Logger
	Metrics    *metrics.Hub
	RateLimits *RateLimits
}

func NewHub(opts Options) *Hub {
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Presence == nil {
		opts.Presence = NewMemoryPresence()
	}
	limits := DefaultRateLimits
	if opts.RateLimits != nil {
		limits = *opts.RateLimits
	}
	return &Hub{
		store:    opts.Store,
		presence: opts.Presence,
		resolver: events.NewRoomAudienceResolver(),
		logger:   NewWebSocketLogger(opts.Logger),
		metrics:  opts.Metrics,
		limits:   limits,
		clients:  make(map[string]map[string]*Client),
		groups:   make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Store() *Store {
	return h.store
}

// register adds client and starts its pumps.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[string]*Client)
	}
	if len(h.clients[client.userID]) >= maxConnectionsPerUser {
		h.logger.Warn("max connections per user reached", client.userID, client.clientID)
		for _, c := range h.clients[client.userID] {
			h.removeLocked(c)
			c.conn.Close()
			h.metrics.DecActive()
			break
		}
	}
	h.clients[client.userID][client.clientID] = client
	h.joinLocked(client, events.UserGroup(client.userID))
	h.mu.Unlock()

	if err := h.presence.SetOnline(context.Background(), client.userID, client.clientID); err != nil {
		h.logger.Error("presence update failed", client.userID, client.clientID, err)
	}
	h.metrics.IncActive()
	h.logger.Info("client connected", client.userID, client.clientID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	userClients, ok := h.clients[client.userID]
	if !ok || userClients[client.clientID] != client {
		h.mu.Unlock()
		return
	}
	h.removeLocked(client)
	last := len(h.clients[client.userID]) == 0
	if last {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	if last {
		if err := h.presence.SetOffline(context.Background(), client.userID); err != nil {
			h.logger.Error("presence update failed", client.userID, client.clientID, err)
		}
	}
	h.metrics.DecActive()
	h.logger.Info("client disconnected", client.userID, client.clientID,
		zap.Duration("connected_for", time.Since(client.connectedAt)))
}

// removeLocked drops client from its user and every group; h.mu must be held.
func (h *Hub) removeLocked(client *Client) {
	delete(h.clients[client.userID], client.clientID)
	for group := range client.groups {
		delete(h.groups[group], client)
		if len(h.groups[group]) == 0 {
			delete(h.groups, group)
		}
	}
	client.groups = make(map[string]struct{})
	client.close()
}

func (h *Hub) join(client *Client, group string) {
	h.mu.Lock()
	h.joinLocked(client, group)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(client *Client, group string) {
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]struct{})
	}
	h.groups[group][client] = struct{}{}
	client.groups[group] = struct{}{}
}

// InGroup reports whether any connection of userID is in group.
func (h *Hub) InGroup(userID, group string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[group] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, userClients := range h.clients {
		n += len(userClients)
	}
	return n
}

// DisconnectUser drops every connection of userID without a close handshake, the way
// a network failure would. It returns how many were dropped.
func (h *Hub) DisconnectUser(userID string) int {
	h.mu.RLock()
	var victims []*Client
	for _, c := range h.clients[userID] {
		victims = append(victims, c)
	}
	h.mu.RUnlock()

	for _, c := range victims {
		c.conn.Close()
	}
	return len(victims)
}

// publish fans event out to the groups the resolver picks. A connection in several
// of them receives it once.
func (h *Hub) publish(event events.Event) {
	h.publishTo(event, h.resolver.ResolveGroups(event)...)
}

func (h *Hub) publishTo(event events.Event, groups ...string) {
	data, err := encodeEvent(event)
	if err != nil {
		h.logger.Error("encode push failed", "", "", err, zap.String("push", event.Name()))
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, g := range groups {
		for c := range h.groups[g] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if c.enqueue(data) {
			h.metrics.IncPush(event.Name())
		}
	}
}

// pushTo sends event to a single connection.
func (h *Hub) pushTo(client *Client, event events.Event) {
	data, err := encodeEvent(event)
	if err != nil {
		h.logger.Error("encode push failed", client.userID, client.clientID, err)
		return
	}
	if client.enqueue(data) {
		h.metrics.IncPush(event.Name())
	}
}

// Stop closes every connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	var all []*Client
	for _, userClients := range h.clients {
		for _, c := range userClients {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func encodeEvent(event events.Event) ([]byte, error) {
	frame, err := events.NewEventFrame(event)
	if err != nil {
		return nil, err
	}
	return frame.Encode()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pawchat_errors.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, pawchat_errors.ErrNotFound):
		return "not_found"
	case errors.Is(err, pawchat_errors.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
