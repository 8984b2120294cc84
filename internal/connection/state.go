package connection

import (
	"fmt"

	pawchat_errors "pawchat/pkg/errors"
)

// State of the shared hub connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Trigger is an input of the connection state machine.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerEstablished
	TriggerLost
	TriggerFailed
	TriggerStop
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerEstablished:
		return "established"
	case TriggerLost:
		return "lost"
	case TriggerFailed:
		return "failed"
	case TriggerStop:
		return "stop"
	default:
		return "unknown"
	}
}

var transitions = map[State]map[Trigger]State{
	StateDisconnected: {
		TriggerStart: StateConnecting,
	},
	StateConnecting: {
		TriggerEstablished: StateConnected,
		TriggerFailed:      StateDisconnected,
		TriggerStop:        StateDisconnected,
	},
	StateConnected: {
		TriggerLost: StateReconnecting,
		TriggerStop: StateDisconnected,
	},
	StateReconnecting: {
		TriggerEstablished: StateConnected,
		TriggerFailed:      StateDisconnected,
		TriggerStop:        StateDisconnected,
	},
}

// Transition is the single transition function of the connection state machine.
func Transition(from State, trigger Trigger) (State, error) {
	if next, ok := transitions[from][trigger]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%s on %s: %w", from, trigger, pawchat_errors.ErrInvalidTransition)
}
