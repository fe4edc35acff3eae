package session

import "fmt"

// State 세션 상태
type State uint8

const (
	StateConnected State = iota
	StateTransferring
	StateEnded
	StateFailed
	StateDisconnected
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateTransferring:
		return "transferring"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed || s == StateDisconnected
}

// MarshalText encodes the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for st := StateConnected; st <= StateDisconnected; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
