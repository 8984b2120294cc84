package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionStates lists the label values of the connection state gauge.
var ConnectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Client holds the collectors of one chat session. A nil *Client is a valid no-op.
type Client struct {
	connectionState   *prometheus.GaugeVec
	invocationsTotal  *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
}

func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_client_connection_state",
				Help: "Current connection state (1 for the active state).",
			},
			[]string{"state"},
		),
		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_invocations_total",
				Help: "Total number of outbound hub invocations by outcome.",
			},
			[]string{"method", "outcome"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_events_total",
				Help: "Total number of server-pushed events routed to listeners.",
			},
			[]string{"event"},
		),
		reconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_client_reconnect_attempts_total",
				Help: "Total number of reconnection attempts.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.connectionState, m.invocationsTotal, m.eventsTotal, m.reconnectAttempts)
	}
	return m
}

func (m *Client) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range ConnectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.connectionState.WithLabelValues(s).Set(value)
	}
}

func (m *Client) IncInvocation(method, outcome string) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Client) IncEvent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

func (m *Client) IncReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// Hub holds the collectors of the reference hub.
type Hub struct {
	activeConnections prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	pushesTotal       *prometheus.CounterVec
}

func NewHub(reg prometheus.Registerer) *Hub {
	m := &Hub{
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_hub_ws_active_connections",
				Help: "Number of active websocket connections.",
			},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_hub_invocations_total",
				Help: "Total number of inbound invocations by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		pushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_hub_pushes_total",
				Help: "Total number of pushed events by name.",
			},
			[]string{"event"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.activeConnections, m.framesTotal, m.pushesTotal)
	}
	return m
}

func (m *Hub) IncActive() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Hub) DecActive() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Hub) IncInvocation(method, outcome string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Hub) IncPush(event string) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(event).Inc()
}
