package downloads

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lmorel/substream/internal/catalog"
)

// TrackRecord is the persisted metadata for one downloaded track. It exists
// only as a child of an AlbumRecord.
type TrackRecord struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Artist          string    `json:"artist,omitempty"`
	Album           string    `json:"album,omitempty"`
	AlbumID         string    `json:"albumId,omitempty"`
	TrackNumber     int       `json:"trackNumber,omitempty"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	Year            int       `json:"year,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	ContentType     string    `json:"contentType,omitempty"`
	FileName        string    `json:"fileName"`
	FileSizeBytes   int64     `json:"fileSizeBytes"`
	DownloadDate    time.Time `json:"downloadDate"`
}

// AlbumRecord is the persisted metadata for one downloaded album, keyed by
// AlbumID with upsert semantics on re-download.
type AlbumRecord struct {
	AlbumID      string        `json:"albumId"`
	AlbumName    string        `json:"albumName"`
	ArtistName   string        `json:"artistName"`
	Year         int           `json:"year,omitempty"`
	Genre        string        `json:"genre,omitempty"`
	Songs        []TrackRecord `json:"songs"`
	StoragePath  string        `json:"storagePath"`
	DownloadDate time.Time     `json:"downloadDate"`
}

// TotalBytes returns the summed payload size of all tracks.
func (a AlbumRecord) TotalBytes() int64 {
	var total int64
	for _, s := range a.Songs {
		total += s.FileSizeBytes
	}
	return total
}

// SizeLabel returns a human-readable total size, e.g. "54 MB".
func (a AlbumRecord) SizeLabel() string {
	return humanize.Bytes(uint64(a.TotalBytes())) //nolint:gosec // sizes are non-negative
}

// Tracks converts the album's records into playable catalog tracks. Records
// written before full per-track metadata capture get a synthesized minimal
// track so offline playback does not regress; synthesis is visible through
// Track.Origin.
func (a AlbumRecord) Tracks() []catalog.Track {
	out := make([]catalog.Track, 0, len(a.Songs))
	for i, s := range a.Songs {
		out = append(out, s.track(a, i))
	}
	return out
}

func (r TrackRecord) track(parent AlbumRecord, position int) catalog.Track {
	if r.Title == "" {
		return catalog.Track{
			ID:          r.ID,
			Title:       fmt.Sprintf("Track %s", r.ID),
			Artist:      parent.ArtistName,
			Album:       parent.AlbumName,
			AlbumID:     parent.AlbumID,
			TrackNumber: position + 1,
			Origin:      catalog.MetadataSynthesized,
		}
	}
	return catalog.Track{
		ID:              r.ID,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		AlbumID:         r.AlbumID,
		TrackNumber:     r.TrackNumber,
		DurationSeconds: r.DurationSeconds,
		Year:            r.Year,
		Genre:           r.Genre,
		ContentType:     r.ContentType,
		Origin:          catalog.MetadataFull,
	}
}
