// Package catalog provides the client for the remote music server's REST API.
package catalog

import (
	"context"
	"crypto/md5" //nolint:gosec // token scheme mandated by the server API
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lmorel/substream/internal/errmsg"
)

const (
	apiVersion = "1.16.1"
	clientName = "substream"

	// Error codes defined by the server API.
	codeUnauthorized   = 40
	codeTokenAuthError = 41
	codeNotFound       = 70
)

// Client provides access to the remote music server API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a new server API client.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Ping verifies the server is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/rest/ping", nil)
	return err
}

// GetTrack fetches a single track's metadata by id.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	resp, err := c.get(ctx, "/rest/getSong", url.Values{"id": {trackID}})
	if err != nil {
		return nil, err
	}
	if resp.Song == nil {
		return nil, fmt.Errorf("track %s: empty response", trackID)
	}
	t := resp.Song.toTrack()
	return &t, nil
}

// GetAlbum fetches an album with its track list.
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	resp, err := c.get(ctx, "/rest/getAlbum", url.Values{"id": {albumID}})
	if err != nil {
		return nil, err
	}
	if resp.Album == nil {
		return nil, fmt.Errorf("album %s: empty response", albumID)
	}
	album := &Album{
		ID:     resp.Album.ID,
		Name:   resp.Album.Name,
		Artist: resp.Album.Artist,
		Year:   resp.Album.Year,
		Genre:  resp.Album.Genre,
	}
	for _, s := range resp.Album.Song {
		album.Songs = append(album.Songs, s.toTrack())
	}
	return album, nil
}

// StreamURL negotiates a transcoded stream URL for a track. maxBitRate is a
// kbps hint (0 = server default). The returned URL is verified with a cheap
// ranged request so a stale or not-yet-ready transcode surfaces here instead
// of mid-playback.
func (c *Client) StreamURL(ctx context.Context, trackID string, maxBitRate int) (string, error) {
	params := url.Values{"id": {trackID}}
	if maxBitRate > 0 {
		params.Set("maxBitRate", strconv.Itoa(maxBitRate))
	}
	streamURL := c.requestURL("/rest/stream", params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errmsg.ErrServerUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errmsg.ErrUnauthorized
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("stream probe returned status %d", resp.StatusCode)
	}

	return streamURL, nil
}

// Fetch opens the body of a previously negotiated stream URL. The returned
// length is the reported Content-Length, -1 when the server does not send
// one. The caller owns the returned ReadCloser.
func (c *Client) Fetch(ctx context.Context, streamURL string) (io.ReadCloser, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return nil, "", 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %v", errmsg.ErrStreamInterrupted, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// Download opens the original (untranscoded) file for a track.
// Used by the offline store; the caller owns the returned ReadCloser.
func (c *Client) Download(ctx context.Context, trackID string) (io.ReadCloser, int64, error) {
	reqURL := c.requestURL("/rest/download", url.Values{"id": {trackID}})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errmsg.ErrServerUnreachable, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, 0, errmsg.ErrUnauthorized
		}
		return nil, 0, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// CoverArt fetches album art scaled to the given size in pixels.
func (c *Client) CoverArt(ctx context.Context, id string, size int) ([]byte, error) {
	params := url.Values{"id": {id}}
	if size > 0 {
		params.Set("size", strconv.Itoa(size))
	}
	reqURL := c.requestURL("/rest/getCoverArt", params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover art returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Scrobble reports a play to the server. submission=false registers a
// "now playing" notification instead of a play.
func (c *Client) Scrobble(ctx context.Context, trackID string, submission bool) error {
	_, err := c.get(ctx, "/rest/scrobble", url.Values{
		"id":         {trackID},
		"submission": {strconv.FormatBool(submission)},
	})
	return err
}

// get performs a JSON API request and unwraps the response envelope.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(path, params), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.Response.Status != "ok" {
		if e := env.Response.Error; e != nil {
			switch e.Code {
			case codeUnauthorized, codeTokenAuthError:
				return nil, fmt.Errorf("%w: %s", errmsg.ErrUnauthorized, e.Message)
			case codeNotFound:
				return nil, fmt.Errorf("not found: %s", e.Message)
			}
			return nil, fmt.Errorf("API error %d: %s", e.Code, e.Message)
		}
		return nil, fmt.Errorf("API status %q", env.Response.Status)
	}

	return &env.Response, nil
}

// requestURL builds a fully authenticated API URL. Authentication uses the
// salted token scheme: t = md5(password + salt), fresh salt per request.
func (c *Client) requestURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	salt := newSalt()
	token := md5.Sum([]byte(c.password + salt)) //nolint:gosec // see above

	params.Set("u", c.username)
	params.Set("t", hex.EncodeToString(token[:]))
	params.Set("s", salt)
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")

	return c.baseURL + path + "?" + params.Encode()
}

func newSalt() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
