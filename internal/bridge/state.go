package bridge

// State tracks the session lifecycle.
type State int32

const (
	// StateStarting indicates arguments are validated but no connection exists yet.
	StateStarting State = iota
	// StateConnecting indicates the SSE GET is in flight.
	StateConnecting
	// StateRunning indicates both read loops are active.
	StateRunning
	// StateClosing indicates local input ended and in-flight sends may finish.
	StateClosing
	// StateClosed indicates a graceful end of session.
	StateClosed
	// StateError indicates the session ended on a fatal condition.
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}
