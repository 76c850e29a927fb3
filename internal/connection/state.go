package connection

import "fmt"

// State is the lifecycle state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateGaveUp
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
	case StateGaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// trigger is an input to the state machine.
type trigger int

const (
	trigConnect     trigger = iota // caller asked to connect
	trigEstablished                // dial, resync and drain succeeded
	trigFailed                     // an establish attempt failed
	trigLost                       // link dropped while connected
	trigExhausted                  // no reconnect attempts left
	trigClose                      // caller disconnected
	trigSuperseded                 // server replaced the link with a newer one
)

func (t trigger) String() string {
	return [...]string{"connect", "established", "failed", "lost", "exhausted", "close", "superseded"}[t]
}

// transitions lists every legal move. Anything else is a bug.
var transitions = map[State]map[trigger]State{
	StateDisconnected: {
		trigConnect: StateConnecting,
		trigClose:   StateDisconnected,
	},
	StateConnecting: {
		trigEstablished: StateConnected,
		trigFailed:      StateDisconnected,
		trigClose:       StateDisconnected,
	},
	StateConnected: {
		trigLost:  StateReconnecting,
		trigClose: StateDisconnected,
	},
	StateReconnecting: {
		trigEstablished: StateConnected,
		trigFailed:      StateReconnecting,
		trigExhausted:   StateGaveUp,
		trigSuperseded:  StateGaveUp,
		trigClose:       StateDisconnected,
	},
	StateGaveUp: {
		trigConnect: StateConnecting,
		trigClose:   StateDisconnected,
	},
}

// transition returns the state reached from s on t.
func transition(s State, t trigger) (State, error) {
	next, ok := transitions[s][t]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, t)
	}
	return next, nil
}

// Terminal reports whether s only changes on an explicit caller action.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateGaveUp
}
