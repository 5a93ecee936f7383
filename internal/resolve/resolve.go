// Package resolve decides where a track's audio comes from. Sources are
// tried in a fixed order: memory cache, downloaded file, network stream,
// downloaded file again as the offline fallback.
package resolve

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/errmsg"
)

// Kind identifies where a resolved source lives.
type Kind int

const (
	KindUnavailable Kind = iota
	KindCached
	KindLocal
	KindRemote
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCached:
		return "cached"
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unavailable"
	}
}

// Source is a resolved playback source for one track. Exactly one of Data,
// Path or URL is populated, matching Kind.
type Source struct {
	Kind    Kind
	TrackID string

	// Name carries a file name with the extension that selects a decoder.
	Name string

	Data []byte // KindCached
	Path string // KindLocal
	URL  string // KindRemote

	ContentType string
}

// Catalog is the remote server surface the resolver needs.
// *catalog.Client satisfies it.
type Catalog interface {
	StreamURL(ctx context.Context, trackID string, maxBitRate int) (string, error)
	Fetch(ctx context.Context, streamURL string) (io.ReadCloser, string, int64, error)
}

// maxPayloadBytes bounds a single materialized stream body. Anything larger
// than the payload cache would refuse to hold is rejected up front instead of
// being read fully into memory.
const maxPayloadBytes = 64 << 20

// Index is the offline store surface the resolver needs.
// *downloads.Store satisfies it.
type Index interface {
	TrackPath(trackID string) (string, bool)
}

// Network reports server reachability. *reachability.Monitor satisfies it.
type Network interface {
	CanReachServer(ctx context.Context) bool
}

// Resolver resolves tracks to playback sources and owns the in-memory
// payload cache. Safe for concurrent use.
type Resolver struct {
	catalog Catalog
	index   Index
	network Network

	// maxBitRate is the kbps hint passed to stream negotiation (0 = server
	// default).
	maxBitRate int

	// maxPayload caps a materialized stream body in bytes.
	maxPayload int

	cache *payloadCache
}

// New creates a resolver. maxBitRate caps negotiated stream quality in kbps
// (0 for the server default).
func New(cat Catalog, index Index, network Network, maxBitRate int) *Resolver {
	return &Resolver{
		catalog:    cat,
		index:      index,
		network:    network,
		maxBitRate: maxBitRate,
		maxPayload: maxPayloadBytes,
		cache:      newPayloadCache(defaultCacheBytes),
	}
}

// Resolve finds the best available source for a track. The error is non-nil
// only when the returned kind is KindUnavailable.
func (r *Resolver) Resolve(ctx context.Context, track catalog.Track) (Source, error) {
	if data, ok := r.cache.get(track.ID); ok {
		return Source{
			Kind:    KindCached,
			TrackID: track.ID,
			Name:    r.cache.name(track.ID),
			Data:    data,
		}, nil
	}

	if src, ok := r.localSource(track); ok {
		return src, nil
	}

	var netErr error
	if r.network.CanReachServer(ctx) {
		url, err := r.catalog.StreamURL(ctx, track.ID, r.maxBitRate)
		if err == nil {
			return Source{
				Kind:    KindRemote,
				TrackID: track.ID,
				Name:    remoteName(track),
				URL:     url,
			}, nil
		}
		netErr = err
	} else {
		netErr = errmsg.ErrNetworkUnavailable
	}

	// Offline fallback: a downloaded copy may have appeared while the
	// network path was being tried.
	if src, ok := r.localSource(track); ok {
		return src, nil
	}

	return Source{Kind: KindUnavailable, TrackID: track.ID},
		fmt.Errorf("%w for track %s: %v", errmsg.ErrNoPlaybackSource, track.ID, netErr)
}

// Materialize turns a remote source into a cached one by fetching the full
// payload into memory. Non-remote sources are returned unchanged.
func (r *Resolver) Materialize(ctx context.Context, src Source) (Source, error) {
	if src.Kind != KindRemote {
		return src, nil
	}

	body, contentType, length, err := r.catalog.Fetch(ctx, src.URL)
	if err != nil {
		return src, fmt.Errorf("fetch stream: %w", err)
	}
	defer body.Close()

	if length > int64(r.maxPayload) {
		return src, fmt.Errorf("stream body is %d bytes, above the %d byte limit", length, r.maxPayload)
	}

	// The limit also covers servers that omit or understate Content-Length.
	data, err := io.ReadAll(io.LimitReader(body, int64(r.maxPayload)+1))
	if err != nil {
		return src, fmt.Errorf("%w: %v", errmsg.ErrStreamInterrupted, err)
	}
	if len(data) == 0 {
		return src, fmt.Errorf("%w: empty stream body", errmsg.ErrStreamInterrupted)
	}
	if len(data) > r.maxPayload {
		return src, fmt.Errorf("stream body exceeds the %d byte limit", r.maxPayload)
	}

	name := src.Name
	if ext := extensionForContentType(contentType); ext != "" {
		name = src.TrackID + ext
	}
	r.cache.put(src.TrackID, name, data)

	return Source{
		Kind:        KindCached,
		TrackID:     src.TrackID,
		Name:        name,
		Data:        data,
		ContentType: contentType,
	}, nil
}

// Invalidate drops a track's cached payload, forcing the next resolve to
// start the cascade over.
func (r *Resolver) Invalidate(trackID string) {
	r.cache.remove(trackID)
}

// ClearCache drops all cached payloads.
func (r *Resolver) ClearCache() {
	r.cache.clear()
}

func (r *Resolver) localSource(track catalog.Track) (Source, bool) {
	path, ok := r.index.TrackPath(track.ID)
	if !ok {
		return Source{}, false
	}
	// The index can outlive the file it points at.
	if _, err := os.Stat(path); err != nil {
		return Source{}, false
	}
	return Source{
		Kind:    KindLocal,
		TrackID: track.ID,
		Name:    path,
		Path:    path,
	}, true
}

// remoteName guesses a decoder-selecting name before the stream content type
// is known. Transcoding servers default to mp3.
func remoteName(track catalog.Track) string {
	if track.Suffix != "" {
		return track.ID + "." + track.Suffix
	}
	return track.ID + ".mp3"
}

func extensionForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "application/ogg", "audio/vorbis":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}
