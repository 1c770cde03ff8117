package peer

// State is a Peer Connection's position in its handshake/lifecycle state
// machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateVersionSent
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateVersionSent:
		return "VERSION_SENT"
	case StateReady:
		return "READY"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}
