package mqtt

import "fmt"

// State is the lifecycle state of a Connector.
type State int32

// Connector states. The zero value is StateDisconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateFailed
)

// String returns the state name used in events and metrics.
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
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// establishing reports whether a connection attempt is in flight.
func (s State) establishing() bool {
	return s == StateConnecting || s == StateReconnecting
}
