package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pawchat/internal/events"
	"pawchat/internal/metrics"
	"pawchat/internal/transport/wsconn"
	pawchat_errors "pawchat/pkg/errors"
)

// Transport is a live full-duplex connection to the hub.
type Transport interface {
	Start(onMessage func([]byte), onClose func(error))
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Transport, fetching a token through the given func.
type Dialer func(ctx context.Context, token wsconn.TokenFunc) (Transport, error)

// WebsocketDialer dials the hub websocket endpoint.
func WebsocketDialer(hubURL string, opts wsconn.Options) Dialer {
	return func(ctx context.Context, token wsconn.TokenFunc) (Transport, error) {
		conn, err := wsconn.Dial(ctx, hubURL, token, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetries of zero retries until Disconnect.
	MaxRetries int
}

type Options struct {
	Reconnect     ReconnectPolicy
	InvokeTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Client
	// OnEvent receives push frames on the read goroutine. It must not wait on an
	// invocation result.
	OnEvent func(events.Frame)
	// Bootstrap runs after every transition into Connected. Concurrent triggers share
	// one in-flight run.
	Bootstrap func(ctx context.Context)
}

// StateListener observes transitions. Listeners run in transition order and must not
// call Connect or Disconnect synchronously.
type StateListener func(prev, next State)

type stateListener struct {
	id int
	fn StateListener
}

// Manager owns the single hub connection of a session.
type Manager struct {
	dial    Dialer
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Client

	mu           sync.Mutex
	notifyMu     sync.Mutex
	state        State
	identity     string
	tokens       wsconn.TokenFunc
	transport    Transport
	pending      map[string]chan events.Frame
	life         context.Context
	cancel       context.CancelFunc
	epoch        uint64
	connSeq      uint64
	bootstrapped uint64
	listeners    []stateListener
	nextListener int

	flight singleflight.Group
}

func NewManager(dial Dialer, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reconnect.InitialInterval == 0 {
		opts.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if opts.Reconnect.MaxInterval == 0 {
		opts.Reconnect.MaxInterval = 30 * time.Second
	}
	m := &Manager{
		dial:    dial,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "connection")),
		metrics: opts.Metrics,
		state:   StateDisconnected,
		pending: make(map[string]chan events.Frame),
		life:    context.Background(),
	}
	m.metrics.SetConnectionState(StateDisconnected.String())
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// OnStateChange registers a listener and returns a func removing it.
func (m *Manager) OnStateChange(fn StateListener) func() {
	m.mu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, stateListener{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// AwaitConnected blocks until the connection is Connected or ctx is done.
func (m *Manager) AwaitConnected(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	remove := m.OnStateChange(func(_, next State) {
		if next == StateConnected {
			once.Do(func() { close(ready) })
		}
	})
	defer remove()

	if m.State() == StateConnected {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect opens the connection for identity. Failures are logged and leave the
// manager Disconnected; calling it while not Disconnected only returns the state.
func (m *Manager) Connect(ctx context.Context, identity string, tokens wsconn.TokenFunc) State {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.identity = identity
	m.tokens = tokens
	m.epoch++
	epoch := m.epoch
	m.life, m.cancel = context.WithCancel(context.Background())
	prev, changed := m.transitionLocked(TriggerStart)
	m.unlockAndNotify(prev, changed)

	t, err := m.dial(ctx, tokens)
	if err != nil {
		m.logger.Warn("connect failed", zap.String("identity", identity), zap.Error(err))
		m.mu.Lock()
		if m.epoch != epoch || m.state != StateConnecting {
			state := m.state
			m.mu.Unlock()
			return state
		}
		m.cancel()
		prev, changed := m.transitionLocked(TriggerFailed)
		m.unlockAndNotify(prev, changed)
		return StateDisconnected
	}
	return m.attach(epoch, t)
}

// Disconnect stops the transport and any reconnect loop. Safe when already
// disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.epoch++
	if m.cancel != nil {
		m.cancel()
	}
	t := m.transport
	m.transport = nil
	m.failPendingLocked()
	prev, changed := m.transitionLocked(TriggerStop)
	m.unlockAndNotify(prev, changed)

	if t != nil {
		_ = t.Close()
	}
	m.logger.Info("disconnected")
}

// Call invokes method and waits for its completion.
func (m *Manager) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, pawchat_errors.ErrNotConnected)
	}
	id := uuid.New().String()
	reply := make(chan events.Frame, 1)
	m.pending[id] = reply
	t := m.transport
	m.mu.Unlock()

	frame, err := events.NewInvocation(id, method, args...)
	if err != nil {
		m.dropPending(id)
		return nil, err
	}
	data, err := frame.Encode()
	if err != nil {
		m.dropPending(id)
		return nil, err
	}

	if m.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.InvokeTimeout)
		defer cancel()
	}

	if err := t.Write(ctx, data); err != nil {
		m.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case completion, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, pawchat_errors.ErrClosed)
		}
		if completion.Error != "" {
			return nil, &pawchat_errors.RemoteError{Method: method, Message: completion.Error}
		}
		return completion.Result, nil
	case <-ctx.Done():
		m.dropPending(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Send writes a fire-and-forget invocation.
func (m *Manager) Send(ctx context.Context, method string, args ...any) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", method, pawchat_errors.ErrNotConnected)
	}
	t := m.transport
	m.mu.Unlock()

	frame, err := events.NewInvocation("", method, args...)
	if err != nil {
		return err
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := t.Write(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

func (m *Manager) attach(epoch uint64, t Transport) State {
	m.mu.Lock()
	if m.epoch != epoch || (m.state != StateConnecting && m.state != StateReconnecting) {
		state := m.state
		m.mu.Unlock()
		_ = t.Close()
		return state
	}
	m.transport = t
	m.connSeq++
	seq := m.connSeq
	identity := m.identity
	prev, changed := m.transitionLocked(TriggerEstablished)
	m.unlockAndNotify(prev, changed)

	t.Start(m.handleMessage, func(err error) { m.handleClose(epoch, t, err) })
	m.logger.Info("connected", zap.String("identity", identity), zap.Uint64("conn_seq", seq))

	go m.runBootstrap(seq)
	return StateConnected
}

func (m *Manager) handleMessage(data []byte) {
	frame, err := events.DecodeFrame(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case events.FrameCompletion:
		m.mu.Lock()
		reply, ok := m.pending[frame.InvocationID]
		delete(m.pending, frame.InvocationID)
		m.mu.Unlock()
		if ok {
			reply <- frame
		}
	case events.FrameEvent:
		if m.opts.OnEvent != nil {
			m.opts.OnEvent(frame)
		}
	default:
		m.logger.Warn("unexpected frame", zap.String("type", string(frame.Type)), zap.String("target", frame.Target))
	}
}

func (m *Manager) handleClose(epoch uint64, t Transport, err error) {
	m.mu.Lock()
	if m.epoch != epoch || m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.failPendingLocked()
	life := m.life
	prev, changed := m.transitionLocked(TriggerLost)
	m.unlockAndNotify(prev, changed)

	m.logger.Warn("connection lost, reconnecting", zap.Error(err))
	go m.reconnect(life, epoch)
}

func (m *Manager) reconnect(life context.Context, epoch uint64) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.Reconnect.InitialInterval
	policy.MaxInterval = m.opts.Reconnect.MaxInterval
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if m.opts.Reconnect.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(m.opts.Reconnect.MaxRetries))
	}
	b = backoff.WithContext(b, life)

	var t Transport
	err := backoff.Retry(func() error {
		m.mu.Lock()
		stale := m.epoch != epoch
		tokens := m.tokens
		m.mu.Unlock()
		if stale {
			return backoff.Permanent(pawchat_errors.ErrClosed)
		}

		m.metrics.IncReconnectAttempt()
		conn, err := m.dial(life, tokens)
		if err != nil {
			m.logger.Warn("reconnect attempt failed", zap.Error(err))
			return err
		}
		t = conn
		return nil
	}, b)

	if err != nil {
		m.mu.Lock()
		if m.epoch != epoch || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.cancel()
		prev, changed := m.transitionLocked(TriggerFailed)
		m.unlockAndNotify(prev, changed)
		m.logger.Error("reconnect gave up", zap.Error(err))
		return
	}
	m.attach(epoch, t)
}

func (m *Manager) runBootstrap(seq uint64) {
	if m.opts.Bootstrap == nil {
		return
	}
	// a run still in flight for an older connection does not cover this one
	for attempt := 0; attempt < 3; attempt++ {
		_, _, _ = m.flight.Do("bootstrap", func() (any, error) {
			m.mu.Lock()
			start := m.connSeq
			life := m.life
			connected := m.state == StateConnected
			m.mu.Unlock()
			if !connected {
				return nil, nil
			}

			m.opts.Bootstrap(life)

			m.mu.Lock()
			if start > m.bootstrapped {
				m.bootstrapped = start
			}
			m.mu.Unlock()
			return nil, nil
		})

		m.mu.Lock()
		done := m.bootstrapped >= seq || m.connSeq != seq || m.state != StateConnected
		m.mu.Unlock()
		if done {
			return
		}
	}
}

func (m *Manager) dropPending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Manager) failPendingLocked() {
	for id, reply := range m.pending {
		close(reply)
		delete(m.pending, id)
	}
}

// transitionLocked applies trigger; m.mu must be held.
func (m *Manager) transitionLocked(trigger Trigger) (State, bool) {
	prev := m.state
	next, err := Transition(prev, trigger)
	if err != nil {
		m.logger.Debug("ignored transition", zap.Error(err))
		return prev, false
	}
	m.state = next
	m.metrics.SetConnectionState(next.String())
	return prev, true
}

// unlockAndNotify releases m.mu and runs listeners. notifyMu is taken before m.mu is
// released so listeners observe transitions in the order they happened.
func (m *Manager) unlockAndNotify(prev State, changed bool) {
	if !changed {
		m.mu.Unlock()
		return
	}
	next := m.state
	listeners := make([]StateListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l.fn)
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.logger.Debug("state changed", zap.String("from", prev.String()), zap.String("to", next.String()))
	for _, fn := range listeners {
		fn(prev, next)
	}
}
