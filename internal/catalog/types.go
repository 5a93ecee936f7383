package catalog

// MetadataOrigin tells whether a track's descriptive fields came from the
// catalog or were synthesized from a bare id (legacy download indexes that
// predate full per-track metadata capture).
type MetadataOrigin int

const (
	MetadataFull MetadataOrigin = iota
	MetadataSynthesized
)

// Track is a single playable audio item with catalog metadata.
// Immutable value type; produced by the server or reconstructed from
// download metadata.
type Track struct {
	ID              string
	Title           string
	Artist          string
	Album           string
	AlbumID         string
	TrackNumber     int
	DurationSeconds int
	Year            int
	Genre           string
	ContentType     string
	Suffix          string // file suffix reported by the server, e.g. "mp3"
	Origin          MetadataOrigin
}

// Album is an album with its track list.
type Album struct {
	ID     string
	Name   string
	Artist string
	Year   int
	Genre  string
	Songs  []Track
}

// Wire types for the Subsonic-style JSON envelope.

type envelope struct {
	Response response `json:"subsonic-response"`
}

type response struct {
	Status string     `json:"status"`
	Error  *wireError `json:"error,omitempty"`
	Song   *wireSong  `json:"song,omitempty"`
	Album  *wireAlbum `json:"album,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireSong struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumID     string `json:"albumId"`
	Track       int    `json:"track"`
	Duration    int    `json:"duration"`
	Year        int    `json:"year"`
	Genre       string `json:"genre"`
	ContentType string `json:"contentType"`
	Suffix      string `json:"suffix"`
}

type wireAlbum struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Artist string     `json:"artist"`
	Year   int        `json:"year"`
	Genre  string     `json:"genre"`
	Song   []wireSong `json:"song"`
}

func (s wireSong) toTrack() Track {
	return Track{
		ID:              s.ID,
		Title:           s.Title,
		Artist:          s.Artist,
		Album:           s.Album,
		AlbumID:         s.AlbumID,
		TrackNumber:     s.Track,
		DurationSeconds: s.Duration,
		Year:            s.Year,
		Genre:           s.Genre,
		ContentType:     s.ContentType,
		Suffix:          s.Suffix,
		Origin:          MetadataFull,
	}
}
