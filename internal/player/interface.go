package player

import "time"

// Interface defines the player contract for dependency injection and testing.
type Interface interface {
	// PlayFile starts playback of a local audio file.
	PlayFile(path string) error
	// PlayBytes starts playback of an in-memory audio payload. name carries
	// the extension used to pick a decoder.
	PlayBytes(name string, data []byte) error
	Stop()
	Pause()
	Resume()
	Toggle()
	State() State
	Position() time.Duration
	Duration() time.Duration
	// Seek moves the position by delta. Seeking past the end finishes the
	// track.
	Seek(delta time.Duration)
	// SeekTo moves to an absolute position, clamped to the track bounds.
	SeekTo(pos time.Duration)
	SetVolume(level float64)
	Volume() float64
	// FinishedChan signals natural end of a track. Stop does not signal.
	FinishedChan() <-chan struct{}
	Close() error
}

// Verify Player implements Interface at compile time.
var _ Interface = (*Player)(nil)
