package realtime

// State is the connection state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
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
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Status is the consumer-facing view of the connection.
type Status struct {
	State        State
	ConnectionID string
	Err          error
}

// Connected reports whether the hub connection is usable.
func (s Status) Connected() bool { return s.State == StateConnected }
