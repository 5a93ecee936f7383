package downloads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/errmsg"
)

type fakeFetcher struct {
	mu      sync.Mutex
	payload map[string][]byte
	fail    map[string]error
	block   chan struct{} // when non-nil, Download waits until closed
	gate    chan struct{} // when non-nil, each Download consumes one token
	started chan string   // when non-nil, receives the track id at call start
}

func (f *fakeFetcher) Download(ctx context.Context, trackID string) (io.ReadCloser, int64, error) {
	if f.started != nil {
		f.started <- trackID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[trackID]; ok {
		return nil, 0, err
	}
	data, ok := f.payload[trackID]
	if !ok {
		return nil, 0, fmt.Errorf("unknown track %s", trackID)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeFetcher) CoverArt(context.Context, string, int) ([]byte, error) {
	return nil, errors.New("no artwork")
}

func testAlbum(trackCount int) (*catalog.Album, *fakeFetcher) {
	album := &catalog.Album{
		ID:     "al-1",
		Name:   "Test Album",
		Artist: "Test Artist",
		Year:   2021,
	}
	fetcher := &fakeFetcher{payload: make(map[string][]byte)}
	for i := 1; i <= trackCount; i++ {
		id := fmt.Sprintf("tr-%d", i)
		album.Songs = append(album.Songs, catalog.Track{
			ID:          id,
			Title:       fmt.Sprintf("Track %d", i),
			Artist:      album.Artist,
			Album:       album.Name,
			AlbumID:     album.ID,
			TrackNumber: i,
			Suffix:      "ogg",
		})
		fetcher.payload[id] = bytes.Repeat([]byte{byte(i)}, 100*i)
	}
	return album, fetcher
}

func mustOpen(t *testing.T, dir string, fetcher Fetcher) *Store {
	t.Helper()
	s, err := Open(dir, fetcher)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.progressGrace = 10 * time.Millisecond
	return s
}

func TestDownloadAlbum_WritesFilesAndIndex(t *testing.T) {
	album, fetcher := testAlbum(3)
	s := mustOpen(t, t.TempDir(), fetcher)

	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	if !s.IsDownloaded(album.ID) {
		t.Error("IsDownloaded() = false after download")
	}

	record, ok := s.Album(album.ID)
	if !ok {
		t.Fatal("Album() not found after download")
	}
	if len(record.Songs) != 3 {
		t.Fatalf("len(Songs) = %d, want 3", len(record.Songs))
	}
	if record.Songs[0].FileName != "01 - Track 1.ogg" {
		t.Errorf("FileName = %q, want %q", record.Songs[0].FileName, "01 - Track 1.ogg")
	}

	for _, song := range record.Songs {
		path, ok := s.TrackPath(song.ID)
		if !ok {
			t.Fatalf("TrackPath(%s) not found", song.ID)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("payload missing: %v", err)
		}
		if info.Size() != song.FileSizeBytes {
			t.Errorf("file size = %d, record says %d", info.Size(), song.FileSizeBytes)
		}
	}

	if _, err := os.Stat(filepath.Join(s.dir, indexFileName)); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}

func TestDownloadAlbum_IndexSurvivesReopen(t *testing.T) {
	album, fetcher := testAlbum(2)
	dir := t.TempDir()
	s := mustOpen(t, dir, fetcher)
	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	reopened := mustOpen(t, dir, fetcher)
	record, ok := reopened.Album(album.ID)
	if !ok {
		t.Fatal("album not found after reopen")
	}
	if record.AlbumName != album.Name || len(record.Songs) != 2 {
		t.Errorf("record = %+v, want name %q with 2 songs", record, album.Name)
	}
	tracks := record.Tracks()
	if tracks[0].Origin != catalog.MetadataFull {
		t.Errorf("Origin = %v, want MetadataFull", tracks[0].Origin)
	}
	if _, ok := reopened.TrackPath("tr-1"); !ok {
		t.Error("TrackPath() missing after reopen")
	}
}

func TestDownloadAlbum_PartialFailureKeepsSuccesses(t *testing.T) {
	album, fetcher := testAlbum(3)
	fetcher.fail = map[string]error{"tr-2": errors.New("server hiccup")}
	s := mustOpen(t, t.TempDir(), fetcher)

	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	record, ok := s.Album(album.ID)
	if !ok {
		t.Fatal("album not recorded despite partial success")
	}
	if len(record.Songs) != 2 {
		t.Fatalf("len(Songs) = %d, want 2", len(record.Songs))
	}
	if _, ok := s.TrackPath("tr-2"); ok {
		t.Error("failed track present in index")
	}
}

func TestDownloadAlbum_AllFailuresReturnsError(t *testing.T) {
	album, fetcher := testAlbum(2)
	fetcher.fail = map[string]error{
		"tr-1": errors.New("boom"),
		"tr-2": errors.New("boom"),
	}
	s := mustOpen(t, t.TempDir(), fetcher)

	err := s.DownloadAlbum(context.Background(), album)
	if !errors.Is(err, errmsg.ErrNothingDownloaded) {
		t.Fatalf("DownloadAlbum() error = %v, want ErrNothingDownloaded", err)
	}
	if s.IsDownloaded(album.ID) {
		t.Error("album recorded despite zero successful tracks")
	}
}

func TestDownloadAlbum_RejectsConcurrentDuplicate(t *testing.T) {
	album, fetcher := testAlbum(1)
	fetcher.block = make(chan struct{})
	fetcher.started = make(chan string, 1)
	s := mustOpen(t, t.TempDir(), fetcher)

	done := make(chan error, 1)
	go func() {
		done <- s.DownloadAlbum(context.Background(), album)
	}()
	<-fetcher.started // first download is now in flight

	err := s.DownloadAlbum(context.Background(), album)
	if !errors.Is(err, errmsg.ErrAlreadyDownloading) {
		t.Errorf("duplicate DownloadAlbum() error = %v, want ErrAlreadyDownloading", err)
	}

	close(fetcher.block)
	if err := <-done; err != nil {
		t.Fatalf("first DownloadAlbum() error: %v", err)
	}
	// The album finished, so a re-download is allowed again.
	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Errorf("re-download after completion error: %v", err)
	}
}

func TestDownloadAlbum_CancellationDiscardsFiles(t *testing.T) {
	album, fetcher := testAlbum(3)
	fetcher.started = make(chan string, 3)
	fetcher.gate = make(chan struct{}, 1)
	fetcher.gate <- struct{}{} // first track proceeds, second blocks
	s := mustOpen(t, t.TempDir(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.DownloadAlbum(ctx, album)
	}()

	<-fetcher.started // tr-1 underway
	<-fetcher.started // tr-2 blocked on the gate
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("DownloadAlbum() error = %v, want context.Canceled", err)
	}
	if s.IsDownloaded(album.ID) {
		t.Error("cancelled album present in index")
	}

	entries, _ := os.ReadDir(s.dir)
	for _, e := range entries {
		if e.IsDir() {
			files, _ := os.ReadDir(filepath.Join(s.dir, e.Name()))
			for _, f := range files {
				if filepath.Ext(f.Name()) == ".ogg" {
					t.Errorf("leftover payload after cancel: %s", f.Name())
				}
			}
		}
	}
}

func TestDownloadAlbum_ProgressLifecycle(t *testing.T) {
	album, fetcher := testAlbum(2)
	s := mustOpen(t, t.TempDir(), fetcher)

	if _, ok := s.Progress(album.ID); ok {
		t.Error("Progress() reported before download started")
	}

	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	p, ok := s.Progress(album.ID)
	if !ok {
		t.Fatal("Progress() gone immediately after completion, want grace period")
	}
	if p.Completed != 2 || p.Total != 2 {
		t.Errorf("Progress = %+v, want 2/2", p)
	}
	if p.Fraction() != 1 {
		t.Errorf("Fraction() = %v, want 1", p.Fraction())
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := s.Progress(album.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Progress() still reported after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDownloadAlbum_RedownloadInGraceKeepsProgress(t *testing.T) {
	album, fetcher := testAlbum(1)
	s := mustOpen(t, t.TempDir(), fetcher)
	s.progressGrace = 150 * time.Millisecond

	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	// Start a second download while the first run's grace timer is still
	// pending. Its fresh progress must survive the timer firing.
	fetcher.block = make(chan struct{})
	fetcher.started = make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.DownloadAlbum(context.Background(), album)
	}()
	<-fetcher.started

	time.Sleep(2 * s.progressGrace)
	p, ok := s.Progress(album.ID)
	if !ok {
		t.Fatal("Progress() wiped by the previous run's grace timer")
	}
	if p.Completed != 0 || p.Total != 1 {
		t.Errorf("Progress = %+v, want fresh 0/1", p)
	}

	close(fetcher.block)
	if err := <-done; err != nil {
		t.Fatalf("second DownloadAlbum() error: %v", err)
	}
}

func TestQueueTracks_NewestAlbumFirst(t *testing.T) {
	s := mustOpen(t, t.TempDir(), &fakeFetcher{})
	s.albums["al-old"] = AlbumRecord{
		AlbumID:      "al-old",
		AlbumName:    "Old Album",
		ArtistName:   "Old Artist",
		StoragePath:  filepath.Join(s.dir, "old"),
		DownloadDate: time.Now().Add(-time.Hour),
		Songs: []TrackRecord{
			{ID: "tr-old", FileName: "01 - tr-old.mp3"},
		},
	}
	s.albums["al-new"] = AlbumRecord{
		AlbumID:      "al-new",
		AlbumName:    "New Album",
		ArtistName:   "New Artist",
		StoragePath:  filepath.Join(s.dir, "new"),
		DownloadDate: time.Now(),
		Songs: []TrackRecord{
			{ID: "tr-n1", Title: "One", TrackNumber: 1, FileName: "01 - One.ogg"},
			{ID: "tr-n2", Title: "Two", TrackNumber: 2, FileName: "02 - Two.ogg"},
		},
	}

	tracks := s.QueueTracks()
	if len(tracks) != 3 {
		t.Fatalf("len(tracks) = %d, want 3", len(tracks))
	}
	if tracks[0].ID != "tr-n1" || tracks[1].ID != "tr-n2" {
		t.Errorf("tracks[0:2] = %s, %s, want newest album first in order", tracks[0].ID, tracks[1].ID)
	}
	if tracks[2].ID != "tr-old" {
		t.Errorf("tracks[2] = %s, want older album last", tracks[2].ID)
	}
	// Legacy records without titles still come out playable.
	if tracks[2].Origin != catalog.MetadataSynthesized {
		t.Errorf("Origin = %v, want MetadataSynthesized for legacy record", tracks[2].Origin)
	}
}

func TestDownloadAlbum_EmitsEvent(t *testing.T) {
	album, fetcher := testAlbum(1)
	s := mustOpen(t, t.TempDir(), fetcher)

	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	select {
	case ev := <-s.Events():
		if ev.AlbumID != album.ID || ev.Err != nil {
			t.Errorf("event = %+v, want album %s with nil error", ev, album.ID)
		}
	default:
		t.Fatal("no event after successful download")
	}
}

func TestDownloadAlbums_SkipsActive(t *testing.T) {
	album, fetcher := testAlbum(2)
	s := mustOpen(t, t.TempDir(), fetcher)

	other := &catalog.Album{
		ID:     "al-2",
		Name:   "Second",
		Artist: "Test Artist",
		Songs: []catalog.Track{
			{ID: "tr-9", Title: "Nine", TrackNumber: 1, Suffix: "ogg"},
		},
	}
	fetcher.payload["tr-9"] = []byte("nine")

	if err := s.DownloadAlbums(context.Background(), []*catalog.Album{album, other}); err != nil {
		t.Fatalf("DownloadAlbums() error: %v", err)
	}
	if !s.IsDownloaded(album.ID) || !s.IsDownloaded(other.ID) {
		t.Error("batch download missed an album")
	}
}

func TestDeleteAlbum_RemovesFilesAndEntry(t *testing.T) {
	album, fetcher := testAlbum(2)
	s := mustOpen(t, t.TempDir(), fetcher)
	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}
	record, _ := s.Album(album.ID)

	if err := s.DeleteAlbum(album.ID); err != nil {
		t.Fatalf("DeleteAlbum() error: %v", err)
	}
	if s.IsDownloaded(album.ID) {
		t.Error("album still indexed after delete")
	}
	if _, err := os.Stat(record.StoragePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("album dir still present: %v", err)
	}
	if _, ok := s.TrackPath("tr-1"); ok {
		t.Error("TrackPath() still answers for a deleted album")
	}

	// Deleting again is a no-op.
	if err := s.DeleteAlbum(album.ID); err != nil {
		t.Errorf("second DeleteAlbum() error: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	album, fetcher := testAlbum(1)
	s := mustOpen(t, t.TempDir(), fetcher)
	if err := s.DownloadAlbum(context.Background(), album); err != nil {
		t.Fatalf("DownloadAlbum() error: %v", err)
	}

	if err := s.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll() error: %v", err)
	}
	if len(s.Albums()) != 0 {
		t.Errorf("Albums() = %d entries after DeleteAll", len(s.Albums()))
	}
}

func TestOpen_CorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, &fakeFetcher{})
	if !errors.Is(err, errmsg.ErrPersistence) {
		t.Errorf("Open() error = %v, want ErrPersistence", err)
	}
	if s == nil {
		t.Fatal("Open() returned nil store for corrupt index")
	}
	if len(s.Albums()) != 0 {
		t.Errorf("Albums() = %d entries, want 0", len(s.Albums()))
	}
	if _, err := os.Stat(filepath.Join(dir, indexFileName+".corrupt")); err != nil {
		t.Errorf("corrupt index not preserved: %v", err)
	}
}

func TestAlbumRecord_SynthesizesLegacyTracks(t *testing.T) {
	record := AlbumRecord{
		AlbumID:    "al-7",
		AlbumName:  "Old Album",
		ArtistName: "Old Artist",
		Songs: []TrackRecord{
			{ID: "tr-77", FileName: "tr-77.mp3", FileSizeBytes: 10},
		},
	}
	tracks := record.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("len(tracks) = %d, want 1", len(tracks))
	}
	got := tracks[0]
	if got.Origin != catalog.MetadataSynthesized {
		t.Errorf("Origin = %v, want MetadataSynthesized", got.Origin)
	}
	if got.Title != "Track tr-77" {
		t.Errorf("Title = %q, want synthesized title", got.Title)
	}
	if got.Artist != "Old Artist" || got.Album != "Old Album" {
		t.Errorf("inherited fields = %q/%q, want album record values", got.Artist, got.Album)
	}
	if got.TrackNumber != 1 {
		t.Errorf("TrackNumber = %d, want position-based 1", got.TrackNumber)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AC/DC - Back in Black", "AC-DC - Back in Black"},
		{"What?", "What"},
		{"a:b*c", "a-bc"},
		{"  spaced  ", "spaced"},
	}
	for _, tt := range tests {
		if got := sanitizeFileName(tt.in); got != tt.want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
