package models

// ConnState is the lifecycle state of a connection.
//
//	Connecting -> Live -> Closing -> Closed
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateLive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DisconnectReason records why a connection left the Live state.
type DisconnectReason string

const (
	ReasonClientClose    DisconnectReason = "client_close"
	ReasonTransportError DisconnectReason = "transport_error"
	ReasonDeadConnection DisconnectReason = "dead_connection"
	ReasonServerShutdown DisconnectReason = "server_shutdown"
)
