// Package scrobble reports plays to the music server and, when configured,
// to Last.fm. Reporting is best-effort; failures never disturb playback.
package scrobble

import (
	"context"
	"time"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/config"
	"github.com/lmorel/substream/internal/playback"
)

// Thresholds follow the Last.fm submission rules: a play counts once half
// the track (or four minutes) has been heard, and very short tracks never
// count.
const (
	minTrackLength = 30 * time.Second
	maxHalfPoint   = 4 * time.Minute
)

// ServerReporter is the music server's play reporting surface.
// *catalog.Client satisfies it.
type ServerReporter interface {
	Scrobble(ctx context.Context, trackID string, submission bool) error
}

// Scrobbler forwards now-playing and play-completed notifications.
type Scrobbler struct {
	server ServerReporter
	fm     *lastfm.Api // nil when Last.fm is not configured
}

// New creates a scrobbler. Last.fm submission is enabled only when the
// config carries a key, secret and session key.
func New(server ServerReporter, cfg config.LastfmConfig) *Scrobbler {
	s := &Scrobbler{server: server}
	if cfg.APIKey != "" && cfg.APISecret != "" && cfg.SessionKey != "" {
		s.fm = lastfm.New(cfg.APIKey, cfg.APISecret)
		s.fm.SetSession(cfg.SessionKey)
	}
	return s
}

// NowPlaying reports that a track started playing.
func (s *Scrobbler) NowPlaying(ctx context.Context, track catalog.Track) {
	if s.server != nil {
		_ = s.server.Scrobble(ctx, track.ID, false)
	}
	if s.fm != nil {
		params := lastfm.P{
			"artist": track.Artist,
			"track":  track.Title,
		}
		if track.Album != "" {
			params["album"] = track.Album
		}
		if track.DurationSeconds > 0 {
			params["duration"] = track.DurationSeconds
		}
		_, _ = s.fm.Track.UpdateNowPlaying(params)
	}
}

// TrackPlayed reports a finished or abandoned play. The play is submitted
// only when it qualifies under the submission rules.
func (s *Scrobbler) TrackPlayed(ctx context.Context, track catalog.Track, played, duration time.Duration) {
	if !Qualifies(played, duration) {
		return
	}
	if s.server != nil {
		_ = s.server.Scrobble(ctx, track.ID, true)
	}
	if s.fm != nil {
		params := lastfm.P{
			"artist":    track.Artist,
			"track":     track.Title,
			"timestamp": time.Now().Add(-played).Unix(),
		}
		if track.Album != "" {
			params["album"] = track.Album
		}
		if track.DurationSeconds > 0 {
			params["duration"] = track.DurationSeconds
		}
		_, _ = s.fm.Track.Scrobble(params)
	}
}

// Qualifies reports whether a play satisfies the submission rules.
func Qualifies(played, duration time.Duration) bool {
	if duration < minTrackLength {
		return false
	}
	threshold := duration / 2
	if threshold > maxHalfPoint {
		threshold = maxHalfPoint
	}
	return played >= threshold
}

// Run consumes playback events and reports plays until the subscription or
// ctx ends. Intended to run in its own goroutine.
func (s *Scrobbler) Run(ctx context.Context, sub *playback.Subscription) {
	var (
		current  *catalog.Track
		lastPos  time.Duration
		duration time.Duration
	)

	flush := func() {
		if current != nil {
			s.TrackPlayed(ctx, *current, lastPos, duration)
		}
		current = nil
		lastPos = 0
		duration = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-sub.Done:
			flush()
			return
		case ev := <-sub.TrackChanged:
			flush()
			if ev.Current != nil {
				current = ev.Current
				duration = time.Duration(ev.Current.DurationSeconds) * time.Second
				s.NowPlaying(ctx, *ev.Current)
			}
		case ev := <-sub.PositionChanged:
			lastPos = ev.Position
			if ev.Duration > 0 {
				duration = ev.Duration
			}
		}
	}
}
