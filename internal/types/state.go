package types

// SessionState is the acquisition controller's lifecycle state. One
// instance per controller; transitions happen on the capture goroutine
// or in response to an external stop request.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateOpening
	StateRunning
	StateStopping
	StateFaulted
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
