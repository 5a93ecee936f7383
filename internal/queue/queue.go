// Package queue holds the ordered playback queue: current position, shuffle
// and repeat mode. Pure state, no I/O; callers serialize access.
package queue

import (
	"math/rand"
	"time"

	"github.com/lmorel/substream/internal/catalog"
)

// restartThreshold is how far into a track "previous" restarts the current
// track instead of moving to the one before it.
const restartThreshold = 5 * time.Second

// RepeatMode defines the repeat behavior.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "Off"
	case RepeatAll:
		return "All"
	case RepeatOne:
		return "One"
	default:
		return "Unknown"
	}
}

// Queue is the playing queue. The invariant 0 <= current < len(tracks) holds
// whenever the queue is non-empty; current is -1 when empty.
type Queue struct {
	tracks  []catalog.Track
	current int
	repeat  RepeatMode
	shuffle bool

	// Original order snapshot while shuffled. origIndex maps shuffled
	// positions back to original positions. Both are dropped when the
	// queue is edited while shuffled, in which case disabling shuffle
	// keeps the current order.
	original  []catalog.Track
	origIndex []int

	rng *rand.Rand
}

// New creates a new empty queue.
func New() *Queue {
	return &Queue{
		current: -1,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // shuffle order, not crypto
	}
}

// SetPlaylist replaces the queue contents. startIndex is clamped into range;
// an empty track list clears the queue. Returns the track at the resulting
// position, or nil if the queue is now empty.
func (q *Queue) SetPlaylist(tracks []catalog.Track, startIndex int) *catalog.Track {
	q.original = nil
	q.origIndex = nil

	if len(tracks) == 0 {
		q.tracks = nil
		q.current = -1
		return nil
	}

	q.tracks = make([]catalog.Track, len(tracks))
	copy(q.tracks, tracks)

	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex >= len(q.tracks) {
		startIndex = len(q.tracks) - 1
	}
	q.current = startIndex

	if q.shuffle {
		q.reshuffleKeepingCurrent()
	}
	return q.Current()
}

// Current returns the current track, or nil if the queue is empty.
func (q *Queue) Current() *catalog.Track {
	if q.current < 0 || q.current >= len(q.tracks) {
		return nil
	}
	t := q.tracks[q.current]
	return &t
}

// CurrentIndex returns the current position (-1 if empty).
func (q *Queue) CurrentIndex() int {
	return q.current
}

// Advance moves to the next track according to the repeat mode and returns
// it. Returns nil when there is no next track (repeat off at the tail); the
// position is left unchanged in that case so the caller can stop cleanly.
func (q *Queue) Advance() *catalog.Track {
	if len(q.tracks) == 0 {
		return nil
	}
	switch q.repeat {
	case RepeatOne:
		return q.Current()
	case RepeatAll:
		q.current = (q.current + 1) % len(q.tracks)
		return q.Current()
	default:
		if q.current+1 >= len(q.tracks) {
			return nil
		}
		q.current++
		return q.Current()
	}
}

// Skip moves to the next track for a manual skip: repeat one is ignored,
// any non-off repeat mode wraps at the tail. Returns nil at the tail with
// repeat off, leaving the position unchanged.
func (q *Queue) Skip() *catalog.Track {
	if len(q.tracks) == 0 {
		return nil
	}
	if q.current+1 >= len(q.tracks) {
		if q.repeat == RepeatOff {
			return nil
		}
		q.current = 0
		return q.Current()
	}
	q.current++
	return q.Current()
}

// HasNext reports whether Advance would yield a track.
func (q *Queue) HasNext() bool {
	if len(q.tracks) == 0 {
		return false
	}
	if q.repeat != RepeatOff {
		return true
	}
	return q.current+1 < len(q.tracks)
}

// Retreat moves to the previous track and returns it. If more than the
// restart threshold of the current track has elapsed, the current track is
// returned unchanged (the caller restarts it). At position 0 the queue wraps
// to the last track only under repeat all, otherwise it stays at 0.
func (q *Queue) Retreat(elapsed time.Duration) *catalog.Track {
	if len(q.tracks) == 0 {
		return nil
	}
	if elapsed > restartThreshold {
		return q.Current()
	}
	if q.current == 0 {
		if q.repeat == RepeatAll {
			q.current = len(q.tracks) - 1
		}
		return q.Current()
	}
	q.current--
	return q.Current()
}

// JumpTo sets the position. Returns nil without changing state if the index
// is out of range.
func (q *Queue) JumpTo(index int) *catalog.Track {
	if index < 0 || index >= len(q.tracks) {
		return nil
	}
	q.current = index
	return q.Current()
}

// Insert adds tracks at the given index (0..Len inclusive). The current
// position keeps pointing at the same logical track.
func (q *Queue) Insert(index int, tracks ...catalog.Track) bool {
	if index < 0 || index > len(q.tracks) {
		return false
	}
	if len(tracks) == 0 {
		return true
	}
	q.dropSnapshot()

	q.tracks = append(q.tracks[:index], append(append([]catalog.Track{}, tracks...), q.tracks[index:]...)...)
	if q.current >= index {
		q.current += len(tracks)
	}
	if q.current < 0 {
		q.current = 0
	}
	return true
}

// RemoveAt removes the track at index. When the current track is removed the
// position points at the following track, clamped to the new last index; an
// emptied queue resets to -1. The caller decides whether to re-resolve or
// stop.
func (q *Queue) RemoveAt(index int) bool {
	if index < 0 || index >= len(q.tracks) {
		return false
	}
	q.dropSnapshot()

	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)

	switch {
	case len(q.tracks) == 0:
		q.current = -1
	case q.current > index:
		q.current--
	case q.current == index && q.current >= len(q.tracks):
		q.current = len(q.tracks) - 1
	}
	return true
}

// Move moves the track at from to position to, keeping the current position
// pointing at the same logical track.
func (q *Queue) Move(from, to int) bool {
	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return false
	}
	if from == to {
		return true
	}
	q.dropSnapshot()

	track := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]catalog.Track{track}, q.tracks[to:]...)...)

	switch {
	case q.current == from:
		q.current = to
	case from < q.current && to >= q.current:
		q.current--
	case from > q.current && to <= q.current:
		q.current++
	}
	return true
}

// Clear removes all tracks and resets playback position.
func (q *Queue) Clear() {
	q.tracks = nil
	q.current = -1
	q.original = nil
	q.origIndex = nil
}

// Tracks returns a copy of all tracks in queue order.
func (q *Queue) Tracks() []catalog.Track {
	out := make([]catalog.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Len returns the number of tracks.
func (q *Queue) Len() int { return len(q.tracks) }

// IsEmpty returns true if the queue has no tracks.
func (q *Queue) IsEmpty() bool { return len(q.tracks) == 0 }

// RepeatMode returns the current repeat mode.
func (q *Queue) RepeatMode() RepeatMode { return q.repeat }

// SetRepeatMode sets the repeat mode.
func (q *Queue) SetRepeatMode(mode RepeatMode) { q.repeat = mode }

// CycleRepeatMode cycles off -> all -> one -> off and returns the new mode.
func (q *Queue) CycleRepeatMode() RepeatMode {
	switch q.repeat {
	case RepeatOff:
		q.repeat = RepeatAll
	case RepeatAll:
		q.repeat = RepeatOne
	default:
		q.repeat = RepeatOff
	}
	return q.repeat
}

// Shuffle returns whether shuffle is enabled.
func (q *Queue) Shuffle() bool { return q.shuffle }

// SetShuffle enables or disables shuffle. Enabling keeps the currently
// playing track at its position and shuffles the rest, so what the user is
// hearing never moves. Disabling restores the pre-shuffle order (when still
// known) and re-points the position at the current track.
func (q *Queue) SetShuffle(enabled bool) {
	if q.shuffle == enabled {
		return
	}
	q.shuffle = enabled

	if enabled {
		q.reshuffleKeepingCurrent()
		return
	}

	if q.original == nil {
		return // order was edited while shuffled; keep what we have
	}
	idx := q.current
	q.tracks = q.original
	if idx >= 0 && idx < len(q.origIndex) {
		q.current = q.origIndex[idx]
	}
	q.original = nil
	q.origIndex = nil
}

// ToggleShuffle flips shuffle mode and returns the new state.
func (q *Queue) ToggleShuffle() bool {
	q.SetShuffle(!q.shuffle)
	return q.shuffle
}

// reshuffleKeepingCurrent snapshots the original order and permutes every
// position except the current one.
func (q *Queue) reshuffleKeepingCurrent() {
	n := len(q.tracks)
	if n < 2 {
		return
	}

	q.original = make([]catalog.Track, n)
	copy(q.original, q.tracks)

	// Positions other than current, permuted.
	rest := make([]int, 0, n-1)
	for i := range n {
		if i != q.current {
			rest = append(rest, i)
		}
	}
	q.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	shuffled := make([]catalog.Track, n)
	q.origIndex = make([]int, n)
	if q.current >= 0 {
		shuffled[q.current] = q.original[q.current]
		q.origIndex[q.current] = q.current
	}
	k := 0
	for i := range n {
		if i == q.current {
			continue
		}
		shuffled[i] = q.original[rest[k]]
		q.origIndex[i] = rest[k]
		k++
	}
	q.tracks = shuffled
}

// dropSnapshot forgets the pre-shuffle order after an edit; restoring it
// faithfully is no longer possible.
func (q *Queue) dropSnapshot() {
	q.original = nil
	q.origIndex = nil
}
