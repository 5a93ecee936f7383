// Package playback drives the play lifecycle: it resolves each track to a
// source, validates it, starts audio, retries transient failures and
// advances through the queue. Starting a new track supersedes any start
// still in flight.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/errmsg"
	"github.com/lmorel/substream/internal/player"
	"github.com/lmorel/substream/internal/queue"
	"github.com/lmorel/substream/internal/resolve"
	"github.com/lmorel/substream/internal/retry"
)

// RepeatMode re-exports the queue's repeat mode for subscribers.
type RepeatMode = queue.RepeatMode

const (
	RepeatOff = queue.RepeatOff
	RepeatAll = queue.RepeatAll
	RepeatOne = queue.RepeatOne
)

// SourceResolver finds and caches playback sources. *resolve.Resolver
// satisfies it.
type SourceResolver interface {
	Resolve(ctx context.Context, track catalog.Track) (resolve.Source, error)
	Materialize(ctx context.Context, src resolve.Source) (resolve.Source, error)
	Invalidate(trackID string)
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State    State
	Track    *catalog.Track
	Index    int
	Position time.Duration
	Duration time.Duration
	Source   resolve.Kind
	Volume   float64
}

// Engine coordinates queue, resolver and player. All methods are safe for
// concurrent use.
type Engine struct {
	mu sync.Mutex

	player   player.Interface
	resolver SourceResolver
	queue    *queue.Queue

	policy   retry.Policy
	validate func(resolve.Source) error

	state   State
	current *catalog.Track
	source  resolve.Source

	// gen identifies the newest start request; goroutines from older
	// requests see a mismatch and abandon their work.
	gen    int
	cancel context.CancelFunc

	// failures counts consecutive failed starts so automatic skipping
	// cannot loop through a fully broken queue forever.
	failures int

	resumeAfterInterruption bool
	closed                  bool

	subsMu sync.RWMutex
	subs   []*Subscription

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an engine and starts its event loop.
func New(p player.Interface, r SourceResolver, q *queue.Queue) *Engine {
	e := &Engine{
		player:   p,
		resolver: r,
		queue:    q,
		policy:   retry.Policy{Retries: 2, Delay: 500 * time.Millisecond, Backoff: 2},
		validate: probeSource,
		done:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// probeSource decodes a source's header to verify it is playable audio.
func probeSource(src resolve.Source) error {
	switch src.Kind {
	case resolve.KindLocal:
		_, err := player.ProbeFile(src.Path)
		return err
	case resolve.KindCached:
		_, err := player.ProbeBytes(src.Name, src.Data)
		return err
	default:
		return fmt.Errorf("source kind %s is not playable", src.Kind)
	}
}

// SetPlaylist replaces the queue and starts playback at startIndex.
func (e *Engine) SetPlaylist(tracks []catalog.Track, startIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.queue.SetPlaylist(tracks, startIndex)
	e.broadcastQueue()
	e.failures = 0
	if t == nil {
		e.stopLocked()
		return
	}
	e.startLocked()
}

// Play starts or resumes playback.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StatePaused:
		e.player.Resume()
		e.setStateLocked(StatePlaying)
	case StateIdle:
		if e.queue.Current() != nil {
			e.failures = 0
			e.startLocked()
		}
	case StatePlaying, StateResolving, StateValidating:
		// Already underway.
	}
}

// Pause pauses audible playback. Loading states are unaffected.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return
	}
	e.player.Pause()
	e.setStateLocked(StatePaused)
}

// Toggle switches between playing and paused, starting playback when idle.
func (e *Engine) Toggle() {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StatePlaying:
		e.Pause()
	default:
		e.Play()
	}
}

// Stop halts playback and returns to idle. The queue is kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Next skips to the next track. At the end of the queue with repeat off,
// playback stops.
func (e *Engine) Next() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	if e.queue.Skip() == nil {
		e.stopLocked()
		return
	}
	e.startLocked()
}

// Previous restarts the current track when it has been playing for a while,
// otherwise moves to the track before it.
func (e *Engine) Previous() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	if e.queue.Retreat(e.player.Position()) == nil {
		return
	}
	e.startLocked()
}

// JumpTo starts playback at a queue position.
func (e *Engine) JumpTo(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.JumpTo(index) == nil {
		return fmt.Errorf("%s: index %d out of range", errmsg.OpQueueJump, index)
	}
	e.failures = 0
	e.startLocked()
	return nil
}

// Seek moves the position by delta. Seeking past the end finishes the track.
func (e *Engine) Seek(delta time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying && e.state != StatePaused {
		return
	}
	e.player.Seek(delta)
	e.broadcastPositionLocked()
}

// SeekTo moves to an absolute position, clamped to the track bounds.
func (e *Engine) SeekTo(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying && e.state != StatePaused {
		return
	}
	e.player.SeekTo(pos)
	e.broadcastPositionLocked()
}

// InsertNext queues tracks right after the current one.
func (e *Engine) InsertNext(tracks ...catalog.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.queue.CurrentIndex() + 1
	if idx < 0 {
		idx = 0
	}
	if e.queue.Insert(idx, tracks...) {
		e.broadcastQueue()
	}
}

// Append adds tracks to the end of the queue.
func (e *Engine) Append(tracks ...catalog.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.Insert(e.queue.Len(), tracks...) {
		e.broadcastQueue()
	}
}

// RemoveAt removes a queue entry. Removing the playing track starts the one
// that takes its place.
func (e *Engine) RemoveAt(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasCurrent := index == e.queue.CurrentIndex()
	if !e.queue.RemoveAt(index) {
		return fmt.Errorf("remove queue entry: index %d out of range", index)
	}
	e.broadcastQueue()
	if wasCurrent && e.state.Active() {
		if e.queue.Current() != nil {
			e.startLocked()
		} else {
			e.stopLocked()
		}
	}
	return nil
}

// MoveTrack reorders the queue without interrupting playback.
func (e *Engine) MoveTrack(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.queue.Move(from, to) {
		return fmt.Errorf("move queue entry: %d -> %d out of range", from, to)
	}
	e.broadcastQueue()
	return nil
}

// ClearQueue empties the queue and stops playback.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.Clear()
	e.broadcastQueue()
	e.stopLocked()
}

// SetRepeatMode sets the repeat mode.
func (e *Engine) SetRepeatMode(mode RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.SetRepeatMode(mode)
	e.broadcastModeLocked()
}

// CycleRepeatMode cycles off -> all -> one and returns the new mode.
func (e *Engine) CycleRepeatMode() RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	mode := e.queue.CycleRepeatMode()
	e.broadcastModeLocked()
	return mode
}

// SetShuffle enables or disables shuffle.
func (e *Engine) SetShuffle(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.SetShuffle(enabled)
	e.broadcastModeLocked()
	e.broadcastQueue()
}

// ToggleShuffle flips shuffle mode and returns the new state.
func (e *Engine) ToggleShuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	on := e.queue.ToggleShuffle()
	e.broadcastModeLocked()
	e.broadcastQueue()
	return on
}

// SetVolume sets the output level in [0, 1].
func (e *Engine) SetVolume(level float64) {
	e.player.SetVolume(level)
}

// Volume returns the output level.
func (e *Engine) Volume() float64 {
	return e.player.Volume()
}

// HandleInterruptionBegan pauses for an external audio interruption (an
// incoming call, another app claiming the output).
func (e *Engine) HandleInterruptionBegan() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeAfterInterruption = e.state == StatePlaying
	if e.state == StatePlaying {
		e.player.Pause()
		e.setStateLocked(StatePaused)
	}
}

// HandleInterruptionEnded resumes playback when the interruption source says
// resumption is appropriate and the interruption is what paused us.
func (e *Engine) HandleInterruptionEnded(shouldResume bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if shouldResume && e.resumeAfterInterruption && e.state == StatePaused {
		e.player.Resume()
		e.setStateLocked(StatePlaying)
	}
	e.resumeAfterInterruption = false
}

// HandleDeviceDisconnected pauses when the output device goes away.
// Playback never resumes on its own afterwards.
func (e *Engine) HandleDeviceDisconnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePlaying {
		e.player.Pause()
		e.setStateLocked(StatePaused)
	}
	e.resumeAfterInterruption = false
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentTrack returns the track the engine is playing or loading.
func (e *Engine) CurrentTrack() *catalog.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// CurrentSource returns the settled source of the current track. The kind is
// KindUnavailable until resolution completes.
func (e *Engine) CurrentSource() resolve.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// HasNext reports whether a manual or automatic advance would yield a track.
func (e *Engine) HasNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.HasNext()
}

// QueueLen returns the number of queued tracks.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Position returns the playback position.
func (e *Engine) Position() time.Duration {
	return e.player.Position()
}

// Duration returns the current track length.
func (e *Engine) Duration() time.Duration {
	return e.player.Duration()
}

// Queue returns a copy of the queue contents.
func (e *Engine) Queue() []catalog.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Tracks()
}

// QueueIndex returns the current queue position (-1 if empty).
func (e *Engine) QueueIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.CurrentIndex()
}

// RepeatMode returns the queue repeat mode.
func (e *Engine) RepeatMode() RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.RepeatMode()
}

// Shuffle reports whether shuffle is on.
func (e *Engine) Shuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Shuffle()
}

// Status returns a consistent snapshot for displays.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:    e.state,
		Track:    e.current,
		Index:    e.queue.CurrentIndex(),
		Position: e.player.Position(),
		Duration: e.player.Duration(),
		Source:   e.source.Kind,
		Volume:   e.player.Volume(),
	}
}

// Subscribe creates a new event subscription.
func (e *Engine) Subscribe() *Subscription {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	sub := newSubscription()
	e.subs = append(e.subs, sub)
	return sub
}

// Close stops playback and the event loop.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	close(e.done)
	e.player.Stop()
	e.mu.Unlock()

	e.wg.Wait()

	e.subsMu.Lock()
	for _, sub := range e.subs {
		sub.close()
	}
	e.subs = nil
	e.subsMu.Unlock()
	return nil
}

// startLocked begins the start pipeline for the queue's current track,
// superseding any start in flight. Callers hold e.mu.
func (e *Engine) startLocked() {
	if e.closed {
		return
	}
	track := e.queue.Current()
	if track == nil {
		e.stopLocked()
		return
	}

	e.gen++
	gen := e.gen
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.player.Stop()

	prev := e.current
	e.current = track
	e.source = resolve.Source{Kind: resolve.KindUnavailable, TrackID: track.ID}
	e.setStateLocked(StateResolving)
	e.broadcastTrack(TrackChange{Previous: prev, Current: track, Index: e.queue.CurrentIndex()})

	e.wg.Add(1)
	go e.run(ctx, gen, *track)
}

// run resolves, validates and starts one track. Transient failures are
// retried with a re-resolve; unavailable or unauthorized sources fail
// immediately.
func (e *Engine) run(ctx context.Context, gen int, track catalog.Track) {
	defer e.wg.Done()

	var src resolve.Source
	err := retry.Do(ctx, e.policy, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			e.resolver.Invalidate(track.ID)
			e.transition(gen, StateResolving)
		}

		s, err := e.resolver.Resolve(ctx, track)
		if err != nil {
			if errors.Is(err, errmsg.ErrNoPlaybackSource) || errors.Is(err, errmsg.ErrUnauthorized) {
				return retry.Permanent(err)
			}
			return err
		}
		if s.Kind == resolve.KindRemote {
			if s, err = e.resolver.Materialize(ctx, s); err != nil {
				return err
			}
		}

		e.transition(gen, StateValidating)
		if err := e.validate(s); err != nil {
			e.resolver.Invalidate(track.ID)
			return fmt.Errorf("%w: %v", errmsg.ErrAssetValidation, err)
		}
		src = s
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.mu.Lock()
		if gen == e.gen && !e.closed {
			e.failLocked(track, err)
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		return
	}

	var playErr error
	switch src.Kind {
	case resolve.KindLocal:
		playErr = e.player.PlayFile(src.Path)
	case resolve.KindCached:
		playErr = e.player.PlayBytes(src.Name, src.Data)
	default:
		playErr = errmsg.ErrNoPlaybackSource
	}
	if playErr != nil {
		e.resolver.Invalidate(track.ID)
		e.failLocked(track, fmt.Errorf("%w: %v", errmsg.ErrPlaybackFailed, playErr))
		return
	}

	e.failures = 0
	e.source = src
	e.setStateLocked(StatePlaying)
	e.broadcastSource(SourceChange{TrackID: track.ID, Kind: src.Kind})
	e.broadcastPositionLocked()
}

// failLocked reports a failed start and skips to the next track unless the
// whole queue has failed in a row. Callers hold e.mu.
func (e *Engine) failLocked(track catalog.Track, err error) {
	e.failures++
	e.broadcastError(ErrorEvent{
		Operation: string(errmsg.OpPlaybackStart),
		TrackID:   track.ID,
		Err:       err,
	})

	if e.failures >= e.queue.Len() {
		e.stopLocked()
		return
	}
	if e.queue.Advance() == nil {
		e.stopLocked()
		return
	}
	e.startLocked()
}

// handleFinished advances the queue after a track plays to its end.
func (e *Engine) handleFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.state.Active() {
		return
	}
	if e.queue.Advance() == nil {
		e.stopLocked()
		return
	}
	e.startLocked()
}

// stopLocked cancels any in-flight start and returns to idle. Callers hold
// e.mu.
func (e *Engine) stopLocked() {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.player.Stop()
	e.current = nil
	e.source = resolve.Source{Kind: resolve.KindUnavailable}
	e.setStateLocked(StateIdle)
}

// transition updates the state only if the start it belongs to is still the
// newest one.
func (e *Engine) transition(gen int, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		return
	}
	e.setStateLocked(st)
}

// setStateLocked updates the state and notifies subscribers. Callers hold
// e.mu.
func (e *Engine) setStateLocked(st State) {
	if st == e.state {
		return
	}
	prev := e.state
	e.state = st
	e.broadcastState(StateChange{Previous: prev, Current: st})
}

// loop dispatches player completion signals and position ticks.
func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-e.player.FinishedChan():
			e.handleFinished()
		case <-ticker.C:
			e.mu.Lock()
			if e.state == StatePlaying {
				e.broadcastPositionLocked()
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) broadcastQueue() {
	ev := QueueChange{Tracks: e.queue.Tracks(), Index: e.queue.CurrentIndex()}
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendQueue(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastModeLocked() {
	ev := ModeChange{Repeat: e.queue.RepeatMode(), Shuffle: e.queue.Shuffle()}
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendMode(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastPositionLocked() {
	ev := PositionChange{Position: e.player.Position(), Duration: e.player.Duration()}
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendPosition(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastState(ev StateChange) {
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendState(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastTrack(ev TrackChange) {
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendTrack(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastSource(ev SourceChange) {
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendSource(ev)
	}
	e.subsMu.RUnlock()
}

func (e *Engine) broadcastError(ev ErrorEvent) {
	e.subsMu.RLock()
	for _, s := range e.subs {
		s.sendError(ev)
	}
	e.subsMu.RUnlock()
}
