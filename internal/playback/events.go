package playback

import (
	"time"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/resolve"
)

// StateChange is emitted when the engine state changes.
type StateChange struct {
	Previous State
	Current  State
}

// TrackChange is emitted when the engine starts working on a different
// track. It fires at the start of resolution, not when audio begins, so
// subscribers can show the upcoming track while it loads.
type TrackChange struct {
	Previous *catalog.Track
	Current  *catalog.Track
	Index    int
}

// SourceChange is emitted when a track's playback source is settled.
// Subscribers use it to surface where the audio is coming from.
type SourceChange struct {
	TrackID string
	Kind    resolve.Kind
}

// QueueChange is emitted when the queue contents change.
type QueueChange struct {
	Tracks []catalog.Track
	Index  int
}

// ModeChange is emitted when repeat or shuffle mode changes.
type ModeChange struct {
	Repeat  RepeatMode
	Shuffle bool
}

// PositionChange is emitted once a second while playing and after seeks.
type PositionChange struct {
	Position time.Duration
	Duration time.Duration
}

// ErrorEvent is emitted when an operation fails. Failures that trigger an
// automatic skip still emit one event per failed track.
type ErrorEvent struct {
	Operation string
	TrackID   string
	Err       error
}
