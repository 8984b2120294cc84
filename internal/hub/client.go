package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pawchat/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Rate limits per minute
type RateLimits struct {
	MaxSends    int
	MaxAcks     int
	MaxPresence int
	MaxSession  int
}

var DefaultRateLimits = RateLimits{
	MaxSends:    60,
	MaxAcks:     600,
	MaxPresence: 60,
	MaxSession:  300,
}

// ClientRateLimiter keeps one token bucket per method class for a connection. Each
// bucket holds a minute's allowance and refills evenly over the minute.
type ClientRateLimiter struct {
	limiters map[string]*rate.Limiter
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	return &ClientRateLimiter{limiters: map[string]*rate.Limiter{
		"send":     perMinute(limits.MaxSends),
		"ack":      perMinute(limits.MaxAcks),
		"presence": perMinute(limits.MaxPresence),
		"session":  perMinute(limits.MaxSession),
	}}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

func methodClass(method string) string {
	switch method {
	case events.MethodSendMessage:
		return "send"
	case events.MethodAcknowledgeDelivery, events.MethodMarkMessagesAsSeen, events.MethodMarkAllMessagesAsDelivered:
		return "ack"
	case events.MethodOnlineStatus:
		return "presence"
	default:
		return "session"
	}
}

func (rl *ClientRateLimiter) Allow(method string) bool {
	return rl.limiters[methodClass(method)].Allow()
}

// allowAt is Allow with an explicit clock, for tests.
func (rl *ClientRateLimiter) allowAt(method string, now time.Time) bool {
	return rl.limiters[methodClass(method)].AllowN(now, 1)
}

// Client is one websocket connection of a user.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      string
	clientID    string
	rateLimiter *ClientRateLimiter
	connectedAt time.Time
	logger      *WebSocketLogger
	// groups is guarded by hub.mu
	groups map[string]struct{}

	mu      sync.Mutex
	closed  bool
	lastAct time.Time
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, clientID string, limits RateLimits, logger *WebSocketLogger) *Client {
	now := time.Now()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		userID:      userID,
		clientID:    clientID,
		rateLimiter: NewClientRateLimiter(limits),
		connectedAt: now,
		lastAct:     now,
		logger:      logger,
		groups:      make(map[string]struct{}),
	}
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastAct = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastAct)
}

// enqueue queues data without blocking. A full buffer drops the frame.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("client send buffer full", c.userID, c.clientID)
		return false
	}
}

// close stops the write pump; the read pump ends when the socket closes.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.clientID, err)
			}
			break
		}
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.handleMessage(message); err != nil {
			c.logger.Error("websocket handle message failed", c.userID, c.clientID, err)
		}
	}
}

func (c *Client) handleMessage(message []byte) error {
	frame, err := events.DecodeFrame(message)
	if err != nil {
		return err
	}
	if frame.Type != events.FrameInvocation {
		c.logger.Warn("unexpected frame type", c.userID, c.clientID, zap.String("frame_type", string(frame.Type)))
		return nil
	}

	if !c.rateLimiter.Allow(frame.Target) {
		c.logger.Warn("rate limit exceeded", c.userID, c.clientID, zap.String("method", frame.Target))
		c.hub.metrics.IncInvocation(methodLabel(frame.Target), "rate_limited")
		c.reply(frame.InvocationID, nil, errRateLimited)
		return nil
	}

	result, err := c.hub.dispatch(c, frame)
	c.reply(frame.InvocationID, result, err)
	return nil
}

func (c *Client) reply(invocationID string, result any, invokeErr error) {
	if invocationID == "" {
		return
	}
	completion, err := events.NewCompletion(invocationID, result, invokeErr)
	if err != nil {
		completion, _ = events.NewCompletion(invocationID, nil, err)
	}
	data, err := completion.Encode()
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.idleFor() > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.clientID)
				return
			}
		}
	}
}
