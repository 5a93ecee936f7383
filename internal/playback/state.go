package playback

// State is the engine's playback lifecycle state. A track passes through
// Resolving and Validating before it is audible.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateValidating
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolving:
		return "Resolving"
	case StateValidating:
		return "Validating"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Active reports whether a track is loaded (audible or about to be).
func (s State) Active() bool {
	return s != StateIdle
}
