// Package downloads manages offline album storage: payload files on disk
// plus a JSON index describing what is available without network access.
package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/errmsg"
)

const (
	indexFileName = "downloads.json"
	coverFileName = "cover.jpg"
	coverSize     = 600

	// batchLimit bounds concurrent album downloads in DownloadAlbums.
	batchLimit = 2
)

// defaultProgressGrace is how long a finished download keeps reporting full
// progress before the entry is cleared, so the UI can show completion.
const defaultProgressGrace = 2 * time.Second

// Fetcher retrieves track payloads and artwork from the server.
// *catalog.Client satisfies it.
type Fetcher interface {
	Download(ctx context.Context, trackID string) (io.ReadCloser, int64, error)
	CoverArt(ctx context.Context, id string, size int) ([]byte, error)
}

// Progress reports how far an active album download has come.
type Progress struct {
	Completed int
	Total     int
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// Event is emitted when an album download finishes or fails.
type Event struct {
	AlbumID string
	Err     error
}

// Store owns the downloads directory and its index. All methods are safe for
// concurrent use.
type Store struct {
	dir     string
	fetcher Fetcher

	mu       sync.Mutex
	albums   map[string]AlbumRecord
	active   map[string]struct{}
	progress map[string]Progress

	// trackPaths maps track id to its payload path, rebuilt whenever the
	// album set changes. Keeps TrackPath cheap on the resolver hot path.
	trackPaths map[string]string

	// graceTimers holds the pending progress-clear timer per album so a
	// re-download can cancel it.
	graceTimers map[string]*time.Timer

	events chan Event

	// progressGrace is overridable in tests.
	progressGrace time.Duration
}

// Open loads (or initializes) the download index under dir. A corrupt index
// file is moved aside and the store starts empty; the returned store is
// usable even when err is non-nil.
func Open(dir string, fetcher Fetcher) (*Store, error) {
	s := &Store{
		dir:           dir,
		fetcher:       fetcher,
		albums:        make(map[string]AlbumRecord),
		active:        make(map[string]struct{}),
		progress:      make(map[string]Progress),
		trackPaths:    make(map[string]string),
		graceTimers:   make(map[string]*time.Timer),
		events:        make(chan Event, 16),
		progressGrace: defaultProgressGrace,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s, fmt.Errorf("%w: create downloads dir: %v", errmsg.ErrPersistence, err)
	}

	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("%w: read index: %v", errmsg.ErrPersistence, err)
	}

	var records []AlbumRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// Keep the broken file for inspection and start over.
		_ = os.Rename(s.indexPath(), s.indexPath()+".corrupt")
		return s, fmt.Errorf("%w: parse index: %v", errmsg.ErrPersistence, err)
	}
	for _, r := range records {
		s.albums[r.AlbumID] = r
	}
	s.reindexLocked()
	return s, nil
}

// Events returns the channel of download completion events. Events are
// dropped when the channel is full rather than blocking a download.
func (s *Store) Events() <-chan Event {
	return s.events
}

// DownloadAlbum downloads every track of an album to local storage and
// records it in the index. A second request for an album already being
// downloaded is rejected with ErrAlreadyDownloading. Individual track
// failures are skipped; the album is recorded with whatever succeeded.
// Cancellation discards files written by this run.
func (s *Store) DownloadAlbum(ctx context.Context, album *catalog.Album) error {
	err := s.downloadAlbum(ctx, album)
	s.emit(Event{AlbumID: album.ID, Err: err})
	return err
}

func (s *Store) downloadAlbum(ctx context.Context, album *catalog.Album) error {
	if album == nil || len(album.Songs) == 0 {
		return fmt.Errorf("album has no tracks")
	}

	s.mu.Lock()
	if _, busy := s.active[album.ID]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", errmsg.ErrAlreadyDownloading, album.Name)
	}
	s.active[album.ID] = struct{}{}
	s.progress[album.ID] = Progress{Completed: 0, Total: len(album.Songs)}
	// A re-download inside the grace window must not have its fresh
	// progress wiped by the previous run's timer.
	if t := s.graceTimers[album.ID]; t != nil {
		t.Stop()
		delete(s.graceTimers, album.ID)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, album.ID)
		// Hold the final progress value briefly, then clear it.
		s.graceTimers[album.ID] = time.AfterFunc(s.progressGrace, func() {
			s.mu.Lock()
			if _, busy := s.active[album.ID]; !busy {
				delete(s.progress, album.ID)
				delete(s.graceTimers, album.ID)
			}
			s.mu.Unlock()
		})
		s.mu.Unlock()
	}()

	albumDir := filepath.Join(s.dir, albumDirName(album))
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		return fmt.Errorf("%w: create album dir: %v", errmsg.ErrPersistence, err)
	}

	// Artwork is best-effort; tagging and the index work without it.
	var cover []byte
	if art, err := s.fetcher.CoverArt(ctx, album.ID, coverSize); err == nil && len(art) > 0 {
		cover = art
		_ = os.WriteFile(filepath.Join(albumDir, coverFileName), art, 0o644)
	}

	var written []string
	var songs []TrackRecord
	now := time.Now()

	for i, track := range album.Songs {
		if ctx.Err() != nil {
			removeFiles(written)
			return ctx.Err()
		}

		fileName := payloadFileName(i+1, track)
		path := filepath.Join(albumDir, fileName)

		size, err := s.fetchTrack(ctx, track.ID, path)
		if err != nil {
			if ctx.Err() != nil {
				removeFiles(written)
				return ctx.Err()
			}
			// Skip this track, keep going with the rest.
			continue
		}
		written = append(written, path)

		if err := applyTags(path, track, cover); err != nil {
			// Tagging is cosmetic; the payload is intact.
			_ = err
		}

		songs = append(songs, TrackRecord{
			ID:              track.ID,
			Title:           track.Title,
			Artist:          track.Artist,
			Album:           track.Album,
			AlbumID:         track.AlbumID,
			TrackNumber:     track.TrackNumber,
			DurationSeconds: track.DurationSeconds,
			Year:            track.Year,
			Genre:           track.Genre,
			ContentType:     track.ContentType,
			FileName:        fileName,
			FileSizeBytes:   size,
			DownloadDate:    now,
		})

		s.mu.Lock()
		s.progress[album.ID] = Progress{Completed: i + 1, Total: len(album.Songs)}
		s.mu.Unlock()
	}

	if len(songs) == 0 {
		removeFiles(written)
		_ = os.Remove(albumDir)
		return fmt.Errorf("%w: %s", errmsg.ErrNothingDownloaded, album.Name)
	}

	record := AlbumRecord{
		AlbumID:      album.ID,
		AlbumName:    album.Name,
		ArtistName:   album.Artist,
		Year:         album.Year,
		Genre:        album.Genre,
		Songs:        songs,
		StoragePath:  albumDir,
		DownloadDate: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[album.ID] = Progress{Completed: len(album.Songs), Total: len(album.Songs)}
	s.albums[album.ID] = record
	s.reindexLocked()
	// On index save failure the files and the in-memory record stay; the
	// error surfaces so the next save can be retried.
	return s.saveIndexLocked()
}

// DownloadAlbums downloads several albums with bounded concurrency. Albums
// already being downloaded are skipped. The first hard failure is returned
// after the remaining downloads finish.
func (s *Store) DownloadAlbums(ctx context.Context, albums []*catalog.Album) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for _, album := range albums {
		g.Go(func() error {
			err := s.DownloadAlbum(ctx, album)
			if errors.Is(err, errmsg.ErrAlreadyDownloading) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// fetchTrack streams one track payload to path, returning the byte count.
// A partial file is removed on failure.
func (s *Store) fetchTrack(ctx context.Context, trackID, path string) (int64, error) {
	body, _, err := s.fetcher.Download(ctx, trackID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: create file: %v", errmsg.ErrPersistence, err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// DeleteAlbum removes an album's files and index entry. Deleting an album
// that is not downloaded is a no-op.
func (s *Store) DeleteAlbum(albumID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.albums[albumID]
	if !ok {
		return nil
	}
	if err := os.RemoveAll(record.StoragePath); err != nil {
		return fmt.Errorf("%w: remove album files: %v", errmsg.ErrPersistence, err)
	}
	delete(s.albums, albumID)
	s.reindexLocked()
	return s.saveIndexLocked()
}

// DeleteAll removes every downloaded album.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, record := range s.albums {
		if err := os.RemoveAll(record.StoragePath); err != nil {
			return fmt.Errorf("%w: remove album files: %v", errmsg.ErrPersistence, err)
		}
		delete(s.albums, id)
	}
	s.reindexLocked()
	return s.saveIndexLocked()
}

// IsDownloaded reports whether an album is in the index.
func (s *Store) IsDownloaded(albumID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.albums[albumID]
	return ok
}

// Album returns the record for a downloaded album.
func (s *Store) Album(albumID string) (AlbumRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.albums[albumID]
	return r, ok
}

// Albums returns all downloaded albums, newest first.
func (s *Store) Albums() []AlbumRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AlbumRecord, 0, len(s.albums))
	for _, r := range s.albums {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DownloadDate.Equal(out[j].DownloadDate) {
			return out[i].DownloadDate.After(out[j].DownloadDate)
		}
		return out[i].AlbumName < out[j].AlbumName
	})
	return out
}

// TrackRecord finds a downloaded track by id.
func (s *Store) TrackRecord(trackID string) (TrackRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, album := range s.albums {
		for _, song := range album.Songs {
			if song.ID == trackID {
				return song, true
			}
		}
	}
	return TrackRecord{}, false
}

// TrackPath returns the local file path for a downloaded track.
func (s *Store) TrackPath(trackID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.trackPaths[trackID]
	return p, ok
}

// reindexLocked rebuilds the flat track-to-path map from the album records.
// Callers hold s.mu.
func (s *Store) reindexLocked() {
	s.trackPaths = make(map[string]string, len(s.trackPaths))
	for _, album := range s.albums {
		for _, song := range album.Songs {
			s.trackPaths[song.ID] = filepath.Join(album.StoragePath, song.FileName)
		}
	}
}

// QueueTracks flattens every downloaded album into a playable track list,
// newest album first, tracks in album order.
func (s *Store) QueueTracks() []catalog.Track {
	var out []catalog.Track
	for _, album := range s.Albums() {
		out = append(out, album.Tracks()...)
	}
	return out
}

// Progress returns the progress of an active (or just-finished) download.
func (s *Store) Progress(albumID string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[albumID]
	return p, ok
}

// ActiveAlbums returns the ids of albums currently being downloaded.
func (s *Store) ActiveAlbums() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// saveIndexLocked persists the index atomically: write a temp file, then
// rename over the old one. Callers hold s.mu.
func (s *Store) saveIndexLocked() error {
	records := make([]AlbumRecord, 0, len(s.albums))
	for _, r := range s.albums {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AlbumID < records[j].AlbumID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode index: %v", errmsg.ErrPersistence, err)
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write index: %v", errmsg.ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replace index: %v", errmsg.ErrPersistence, err)
	}
	return nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func removeFiles(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// payloadFileName builds "NN - Title.ext" for a track payload.
func payloadFileName(position int, t catalog.Track) string {
	num := t.TrackNumber
	if num == 0 {
		num = position
	}
	title := sanitizeFileName(t.Title)
	if title == "" {
		title = sanitizeFileName(t.ID)
	}
	ext := t.Suffix
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("%02d - %s.%s", num, title, ext)
}

// albumDirName builds "Artist - Album" with filesystem-hostile characters
// stripped, falling back to the album id.
func albumDirName(a *catalog.Album) string {
	name := sanitizeFileName(strings.TrimSpace(a.Artist + " - " + a.Name))
	if name == "" || name == "-" {
		return sanitizeFileName(a.ID)
	}
	return name
}

func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "'",
		"<", "(",
		">", ")",
		"|", "-",
		"\x00", "",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
