package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	pawchat_errors "pawchat/pkg/errors"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 256
)

// TokenFunc returns a fresh access token. It is called once per dial so an expired
// token is replaced on every reconnect.
type TokenFunc func(ctx context.Context) (string, error)

type Options struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	SendBuffer       int
	Logger           *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait == 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait == 0 {
		o.PongWait = defaultPongWait
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// pingPeriod must stay below pongWait so the peer's deadline keeps moving
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Conn is one client websocket connection to the hub
type Conn struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	opts    Options
	logger  *zap.Logger
	mu      sync.Mutex
	closed  bool
	local   bool
	err     error
	closing sync.Once
}

// Dial fetches a token and opens the websocket. An HTTP 401 during the handshake is
// reported as ErrUnauthorized.
func Dial(ctx context.Context, hubURL string, token TokenFunc, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	target, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if token != nil {
		tok, err := token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch access token: %w", err)
		}
		q := target.Query()
		q.Set("token", tok)
		target.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial hub: %w", pawchat_errors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	id := uuid.New().String()
	return &Conn{
		ID:     id,
		conn:   ws,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "transport"), zap.String("conn_id", id)),
	}, nil
}

// Start runs the read and write pumps. onMessage is called on the read goroutine for
// every text frame; onClose is called exactly once when the connection ends, with nil
// after a local Close.
func (c *Conn) Start(onMessage func([]byte), onClose func(error)) {
	go c.writeLoop()
	go c.readLoop(onMessage, onClose)
}

func (c *Conn) readLoop(onMessage func([]byte), onClose func(error)) {
	var readErr error
	defer func() {
		c.shutdown(readErr)
		if onClose != nil {
			onClose(c.Err())
		}
	}()

	extend := func() {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		extend()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.opts.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		extend()
		if onMessage != nil {
			onMessage(data)
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// Write queues a text frame. It fails once the connection has ended or when the
// send buffer stays full until ctx is done.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return pawchat_errors.ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return pawchat_errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the connection with a normal closure frame.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()
	c.closing.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
	})
	c.shutdown(nil)
	return nil
}

// Done is closed when the connection has ended
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended; nil after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if err != nil && !c.local {
		c.err = err
		c.logger.Debug("transport closed", zap.Error(err))
	}
	close(c.done)
	_ = c.conn.Close()
}
