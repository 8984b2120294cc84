package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pawchat/internal/connection"
	"pawchat/internal/domain"
	"pawchat/internal/events"
	"pawchat/internal/gateway"
	"pawchat/internal/messages"
	"pawchat/internal/metrics"
	"pawchat/internal/presence"
	"pawchat/internal/room"
	"pawchat/internal/transport/wsconn"
)

type Options struct {
	HubURL        string
	Transport     wsconn.Options
	Dialer        connection.Dialer
	Reconnect     connection.ReconnectPolicy
	InvokeTimeout time.Duration
	PageSize      int
	CheckInterval time.Duration
	Clock         clockwork.Clock
	Logger        *zap.Logger
	Metrics       *metrics.Client
}

type RoomUpdatedFunc func(room domain.ChatRoom)

type registration struct {
	event string
	id    events.ListenerID
}

// Session is everything one signed-in identity needs to chat: one shared hub
// connection, the router fanning its pushes out, and the per-room state built on top.
type Session struct {
	self     string
	logger   *zap.Logger
	conn     *connection.Manager
	router   *events.Router
	gateway  *gateway.Gateway
	rooms    *room.Controller
	messages *messages.Engine
	presence *presence.Tracker

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	global       []registration
	roomWatchers map[int]RoomUpdatedFunc
	nextWatcher  int
}

func New(selfID string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("user_id", selfID))
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = logger
	}
	dial := opts.Dialer
	if dial == nil {
		dial = connection.WebsocketDialer(opts.HubURL, opts.Transport)
	}

	s := &Session{
		self:         selfID,
		logger:       logger.With(zap.String("component", "session")),
		router:       events.NewRouter(logger, opts.Metrics),
		ctx:          context.Background(),
		roomWatchers: make(map[int]RoomUpdatedFunc),
	}
	s.conn = connection.NewManager(dial, connection.Options{
		Reconnect:     opts.Reconnect,
		InvokeTimeout: opts.InvokeTimeout,
		Logger:        logger,
		Metrics:       opts.Metrics,
		OnEvent:       s.router.DispatchFrame,
		Bootstrap:     s.bootstrap,
	})
	s.gateway = gateway.New(s.conn, logger, opts.Metrics)
	s.rooms = room.NewController(s.gateway, opts.PageSize, logger)
	s.messages = messages.NewEngine(s.gateway, messages.Options{
		SelfID:       selfID,
		SeenInterval: opts.CheckInterval,
		Visible:      s.focused,
		Clock:        opts.Clock,
		Logger:       logger,
	})
	s.presence = presence.NewTracker(s.rooms, opts.Clock, opts.CheckInterval, logger)
	return s
}

func (s *Session) SelfID() string {
	return s.self
}

// Start attaches the global listeners and connects. A failed first connect leaves the
// session Disconnected; Start may be called again.
func (s *Session) Start(ctx context.Context, tokens wsconn.TokenFunc) connection.State {
	s.mu.Lock()
	if s.global == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.attachGlobalListeners()
	}
	s.mu.Unlock()
	return s.conn.Connect(ctx, s.self, tokens)
}

// Stop tears the session down on logout: the connection is stopped and every listener
// and cached room is dropped.
func (s *Session) Stop() {
	s.conn.Disconnect()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.global = nil
	s.roomWatchers = make(map[int]RoomUpdatedFunc)
	s.mu.Unlock()

	active := s.router.ActiveRoom()
	s.router.Reset()
	s.presence.Untrack(active.RoomID)
	s.messages.Reset()
	s.rooms.Reset()
	s.logger.Info("session stopped")
}

func (s *Session) State() connection.State {
	return s.conn.State()
}

// AwaitConnected blocks until the connection is usable or ctx ends.
func (s *Session) AwaitConnected(ctx context.Context) error {
	return s.conn.AwaitConnected(ctx)
}

func (s *Session) OnStateChange(fn connection.StateListener) func() {
	return s.conn.OnStateChange(fn)
}

// OnRoomUpdated registers fn for NewMessage pushes, used to refresh conversation lists.
func (s *Session) OnRoomUpdated(fn RoomUpdatedFunc) func() {
	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	s.roomWatchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.roomWatchers, id)
		s.mu.Unlock()
	}
}

// Rooms returns the rooms learned during this session.
func (s *Session) Rooms() []domain.ChatRoom {
	return s.rooms.Rooms()
}

func (s *Session) ActiveRoom() events.ActiveRoom {
	return s.router.ActiveRoom()
}

// focused reports whether roomID is the active room and on screen.
func (s *Session) focused(roomID string) bool {
	active := s.router.ActiveRoom()
	return active.Matches(roomID) && active.Focused
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// attachGlobalListeners registers the session-wide handlers; s.mu must be held.
func (s *Session) attachGlobalListeners() {
	on := func(event string, h events.Handler) {
		s.global = append(s.global, registration{event: event, id: s.router.On(event, h)})
	}

	on(events.EventReceiveMessage, func(active events.ActiveRoom, ev events.Event) {
		e := ev.(*events.MessageReceivedEvent)
		s.messages.OnMessageReceived(s.context(), e.Message)
		if active.Matches(e.Message.ChatRoomID) && active.Focused && e.Message.SenderID != s.self {
			go s.messages.MarkVisibleAsSeen(s.context(), active.RoomID, s.self)
		}
	})
	on(events.EventMessageDelivered, func(_ events.ActiveRoom, ev events.Event) {
		e := ev.(*events.MessageDeliveredEvent)
		s.messages.OnDeliveryAck(e.MessageID, e.RecipientID, e.Message)
	})
	on(events.EventMessagesMarkedAsSeen, func(_ events.ActiveRoom, ev events.Event) {
		e := ev.(*events.MessagesSeenEvent)
		s.messages.OnSeenAck(e.RoomID, e.MessageIDs(), e.ViewerID)
	})
	on(events.EventNewMessage, func(_ events.ActiveRoom, ev events.Event) {
		e := ev.(*events.RoomUpdatedEvent)
		if !e.Room.HasParticipant(s.self) {
			return
		}
		s.rooms.Remember(e.Room)
		s.mu.Lock()
		watchers := make([]RoomUpdatedFunc, 0, len(s.roomWatchers))
		for _, fn := range s.roomWatchers {
			watchers = append(watchers, fn)
		}
		s.mu.Unlock()
		for _, fn := range watchers {
			fn(e.Room)
		}
	})
}

// bootstrap runs after every transition into Connected. Both hub calls are idempotent;
// the open room is then caught up with its newest history page.
func (s *Session) bootstrap(ctx context.Context) {
	s.logger.Info("bootstrapping session")
	s.gateway.Invoke(ctx, events.MethodJoinAllUserRooms, s.self)
	s.gateway.Invoke(ctx, events.MethodMarkAllMessagesAsDelivered, s.self)

	active := s.router.ActiveRoom()
	if !active.IsOpen() {
		return
	}
	s.rooms.SubscribeToRoomGroup(ctx, active.RoomID)
	if page, ok := s.rooms.FetchHistory(ctx, active.RoomID, 1, 0); ok {
		s.messages.MergeHistory(active.RoomID, page)
	}
	s.presence.Request(ctx, active.RoomID, active.OtherID)
}
