package schema

// ConnectionState is the lifecycle state of a streaming connection.
type ConnectionState int32

const (
	// StateDisconnected is the initial state.
	StateDisconnected ConnectionState = iota
	// StateConnecting means the transport session is being opened.
	StateConnecting
	// StateAuthenticating means the auth handshake was sent and the ack is pending.
	StateAuthenticating
	// StateConnected means the session is authenticated and delivering data.
	StateConnected
	// StateReconnecting means a reconnect attempt is scheduled.
	StateReconnecting
	// StateClosed is terminal until an explicit Connect.
	StateClosed
)

var connectionStateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateConnected:      "connected",
	StateReconnecting:   "reconnecting",
	StateClosed:         "closed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return "unknown"
	}
	return connectionStateNames[s]
}
