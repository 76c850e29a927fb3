package connection

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from    State
		on      trigger
		want    State
		wantErr bool
	}{
		{StateDisconnected, trigConnect, StateConnecting, false},
		{StateConnecting, trigEstablished, StateConnected, false},
		{StateConnecting, trigFailed, StateDisconnected, false},
		{StateConnected, trigLost, StateReconnecting, false},
		{StateReconnecting, trigFailed, StateReconnecting, false},
		{StateReconnecting, trigEstablished, StateConnected, false},
		{StateReconnecting, trigExhausted, StateGaveUp, false},
		{StateReconnecting, trigSuperseded, StateGaveUp, false},
		{StateGaveUp, trigConnect, StateConnecting, false},
		{StateConnected, trigClose, StateDisconnected, false},
		{StateReconnecting, trigClose, StateDisconnected, false},

		{StateConnected, trigConnect, StateConnected, true},
		{StateDisconnected, trigLost, StateDisconnected, true},
		{StateGaveUp, trigEstablished, StateGaveUp, true},
		{StateConnecting, trigExhausted, StateConnecting, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.on.String(), func(t *testing.T) {
			got, err := transition(tt.from, tt.on)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for s, want := range map[State]bool{
		StateDisconnected: true,
		StateConnecting:   false,
		StateConnected:    false,
		StateReconnecting: false,
		StateGaveUp:       true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, !want, want)
		}
	}
}
