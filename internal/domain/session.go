package domain

// Options selects what a session receives and which camera feeds local capture.
type Options struct {
	ReceiveAudio   bool
	ReceiveVideo   bool
	UseFrontCamera bool
}

// State is the lifecycle state of a session controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateNegotiating
	StateConnected
	StateDisconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen without a new Connect.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateClosed || s == StateFailed
}

// StreamHandle references a live decoded remote stream owned by the transport.
type StreamHandle interface {
	StreamID() string
}

// LocalMedia is captured local media handed to the transport.
type LocalMedia interface {
	Close() error
}
