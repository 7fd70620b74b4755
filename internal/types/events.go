package types

import "time"

// EventKind discriminates notifications on the event bus.
type EventKind string

const (
	// EventStarted fires once when a session reaches Running.
	EventStarted EventKind = "acquisition_started"

	// EventStopped fires exactly once per started session, after the
	// shutdown sequence completes.
	EventStopped EventKind = "acquisition_stopped"

	// EventError carries a human-readable failure message. One per
	// failure event.
	EventError EventKind = "error"

	// EventFrame carries a display-throttled frame.
	EventFrame EventKind = "frame"

	// EventStats carries a SessionStats snapshot.
	EventStats EventKind = "stats"
)

// Event is one notification published by the capture worker. Which
// payload fields are set depends on Kind; the rest stay zero.
type Event struct {
	Kind      EventKind
	SessionID string
	Time      time.Time

	Frame *Frame       // EventFrame
	Stats SessionStats // EventStats
	Err   string       // EventError
}
