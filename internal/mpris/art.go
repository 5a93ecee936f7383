package mpris

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/jpeg"
	_ "image/png" // decode embedded PNG artwork
	"os"
	"path/filepath"

	"github.com/dhowden/tag"
	"github.com/nfnt/resize"
)

// artMaxDimension bounds exported artwork so desktop applets never load a
// full-size scan.
const artMaxDimension = 512

// coverNames lists common album art filenames in priority order.
var coverNames = []string{
	"cover.jpg", "cover.png", "cover.jpeg",
	"folder.jpg", "folder.png", "folder.jpeg",
	"album.jpg", "album.png", "album.jpeg",
	"front.jpg", "front.png", "front.jpeg",
}

// FindAlbumArt looks for album art in the same directory as the track.
// Returns the path to the art file, or empty string if not found.
func FindAlbumArt(trackPath string) string {
	dir := filepath.Dir(trackPath)
	for _, name := range coverNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ArtCache exports artwork for local tracks to files a D-Bus peer can read.
// Sidecar images are used as-is; embedded pictures are extracted, scaled
// down and written once per track.
type ArtCache struct {
	dir string
}

// NewArtCache creates an art cache rooted at dir. An empty dir limits
// lookups to sidecar files.
func NewArtCache(dir string) *ArtCache {
	if dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &ArtCache{dir: dir}
}

// ArtURL returns a file:// URL with artwork for the track, or empty string.
func (c *ArtCache) ArtURL(trackPath string) string {
	if path := FindAlbumArt(trackPath); path != "" {
		return "file://" + path
	}
	if c.dir == "" {
		return ""
	}

	cached := filepath.Join(c.dir, fmt.Sprintf("%x.jpg", hash64(trackPath)))
	if _, err := os.Stat(cached); err == nil {
		return "file://" + cached
	}

	if err := c.exportEmbedded(trackPath, cached); err != nil {
		return ""
	}
	return "file://" + cached
}

// exportEmbedded extracts the embedded picture from an audio file, scales it
// down and writes it to dst as JPEG.
func (c *ArtCache) exportEmbedded(trackPath, dst string) error {
	f, err := os.Open(trackPath)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return err
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return fmt.Errorf("no embedded picture")
	}

	img, _, err := image.Decode(bytes.NewReader(pic.Data))
	if err != nil {
		return err
	}
	img = resize.Thumbnail(artMaxDimension, artMaxDimension, img, resize.Lanczos3)

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 85}); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
