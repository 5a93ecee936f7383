package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lmorel/substream/internal/errmsg"
)

func okEnvelope(body string) string {
	return fmt.Sprintf(`{"subsonic-response":{"status":"ok"%s}}`, body)
}

func TestClient_Ping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, okEnvelope(""))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if gotPath != "/rest/ping" {
		t.Errorf("path = %q, want /rest/ping", gotPath)
	}
}

func TestClient_AuthParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("u") != "alice" {
			t.Errorf("u = %q, want alice", q.Get("u"))
		}
		if q.Get("f") != "json" {
			t.Errorf("f = %q, want json", q.Get("f"))
		}
		// Token must be md5(password + salt)
		sum := md5.Sum([]byte("hunter2" + q.Get("s")))
		if q.Get("t") != hex.EncodeToString(sum[:]) {
			t.Error("token does not match md5(password+salt)")
		}
		fmt.Fprint(w, okEnvelope(""))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestClient_GetTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, okEnvelope(`,"song":{
			"id":"tr-1","title":"Cold Little Heart","artist":"Michael Kiwanuka",
			"album":"Love & Hate","albumId":"al-9","track":1,"duration":592,
			"year":2016,"genre":"Soul","contentType":"audio/mpeg","suffix":"mp3"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	track, err := c.GetTrack(context.Background(), "tr-1")
	if err != nil {
		t.Fatalf("GetTrack() error: %v", err)
	}

	if track.Title != "Cold Little Heart" {
		t.Errorf("Title = %q", track.Title)
	}
	if track.AlbumID != "al-9" {
		t.Errorf("AlbumID = %q, want al-9", track.AlbumID)
	}
	if track.DurationSeconds != 592 {
		t.Errorf("DurationSeconds = %d, want 592", track.DurationSeconds)
	}
	if track.Origin != MetadataFull {
		t.Error("Origin should be MetadataFull for catalog tracks")
	}
}

func TestClient_GetAlbum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, okEnvelope(`,"album":{
			"id":"al-9","name":"Love & Hate","artist":"Michael Kiwanuka","year":2016,
			"song":[{"id":"tr-1","title":"Cold Little Heart","track":1},
			        {"id":"tr-2","title":"Black Man in a White World","track":2}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	album, err := c.GetAlbum(context.Background(), "al-9")
	if err != nil {
		t.Fatalf("GetAlbum() error: %v", err)
	}

	if album.Name != "Love & Hate" {
		t.Errorf("Name = %q", album.Name)
	}
	if len(album.Songs) != 2 {
		t.Fatalf("len(Songs) = %d, want 2", len(album.Songs))
	}
	if album.Songs[1].ID != "tr-2" {
		t.Errorf("Songs[1].ID = %q, want tr-2", album.Songs[1].ID)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "wrong")
	err := c.Ping(context.Background())
	if !errors.Is(err, errmsg.ErrUnauthorized) {
		t.Errorf("Ping() error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_StreamURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/stream" {
			t.Errorf("path = %q, want /rest/stream", r.URL.Path)
		}
		if r.URL.Query().Get("maxBitRate") != "192" {
			t.Errorf("maxBitRate = %q, want 192", r.URL.Query().Get("maxBitRate"))
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0xff, 0xfb})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	u, err := c.StreamURL(context.Background(), "tr-1", 192)
	if err != nil {
		t.Fatalf("StreamURL() error: %v", err)
	}
	if u == "" {
		t.Error("StreamURL() returned empty URL")
	}
}

func TestClient_StreamURL_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	if _, err := c.StreamURL(context.Background(), "tr-1", 0); err == nil {
		t.Error("StreamURL() should fail when the probe returns 503")
	}
}

func TestClient_Download(t *testing.T) {
	payload := []byte("fake audio payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/download" {
			t.Errorf("path = %q, want /rest/download", r.URL.Path)
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	rc, size, err := c.Download(context.Background(), "tr-1")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("body = %q, want %q", got, payload)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
}

func TestClient_Scrobble(t *testing.T) {
	var gotSubmission string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubmission = r.URL.Query().Get("submission")
		fmt.Fprint(w, okEnvelope(""))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "hunter2")
	if err := c.Scrobble(context.Background(), "tr-1", true); err != nil {
		t.Fatalf("Scrobble() error: %v", err)
	}
	if gotSubmission != "true" {
		t.Errorf("submission = %q, want true", gotSubmission)
	}
}
