package sim

// EventKind enumerates the notifications an engine emits while running.
type EventKind int

const (
	// EventTick fires after every scheduled tick. Synchronous Tick calls do
	// not emit it, so tests can step without wiring listeners.
	EventTick EventKind = iota

	// EventEnd fires once when alpha falls below alphaMin and the run loop
	// stops. Restart arms it again.
	EventEnd

	// EventFallback fires when the active backend fails and the engine swaps
	// to the CPU backend mid-run.
	EventFallback
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventEnd:
		return "end"
	case EventFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Event is a snapshot of engine state at the moment of emission. Listeners
// run on the engine's loop goroutine and must not block.
type Event struct {
	Kind    EventKind `json:"kind"`
	Alpha   float64   `json:"alpha"`
	Tick    uint64    `json:"tick"`
	Backend string    `json:"backend"`
	// Reason carries the cause on fallback events, empty otherwise.
	Reason string `json:"reason,omitempty"`
}
