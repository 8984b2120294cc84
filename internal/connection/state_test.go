package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pawchat_errors "pawchat/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    State
		trigger Trigger
		want    State
	}{
		{StateDisconnected, TriggerStart, StateConnecting},
		{StateConnecting, TriggerEstablished, StateConnected},
		{StateConnecting, TriggerFailed, StateDisconnected},
		{StateConnecting, TriggerStop, StateDisconnected},
		{StateConnected, TriggerLost, StateReconnecting},
		{StateConnected, TriggerStop, StateDisconnected},
		{StateReconnecting, TriggerEstablished, StateConnected},
		{StateReconnecting, TriggerFailed, StateDisconnected},
		{StateReconnecting, TriggerStop, StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.trigger.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.trigger)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		from    State
		trigger Trigger
	}{
		{StateDisconnected, TriggerLost},
		{StateDisconnected, TriggerEstablished},
		{StateDisconnected, TriggerStop},
		{StateConnected, TriggerStart},
		{StateConnected, TriggerEstablished},
		{StateConnecting, TriggerLost},
		{StateReconnecting, TriggerStart},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.trigger.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.trigger)
			assert.ErrorIs(t, err, pawchat_errors.ErrInvalidTransition)
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestDisconnectedCannotReachReconnecting(t *testing.T) {
	for _, trigger := range []Trigger{TriggerStart, TriggerEstablished, TriggerLost, TriggerFailed, TriggerStop} {
		got, _ := Transition(StateDisconnected, trigger)
		assert.NotEqual(t, StateReconnecting, got)
	}
}
