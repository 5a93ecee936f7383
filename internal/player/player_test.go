package player

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelToVolume(t *testing.T) {
	tests := []struct {
		level float64
		want  float64
	}{
		{1.0, 0},
		{0.5, -1},
		{0.25, -2},
		{0, -10},
		{-0.5, -10},
		{1.5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelToVolume(tt.level), "levelToVolume(%v)", tt.level)
	}
}

func TestSkipID3v2(t *testing.T) {
	t.Run("no tag seeks back to start", func(t *testing.T) {
		r := bytes.NewReader([]byte("fLaC and then some data"))
		if err := skipID3v2(r); err != nil {
			t.Fatalf("skipID3v2() error: %v", err)
		}
		head := make([]byte, 4)
		if _, err := io.ReadFull(r, head); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, "fLaC", string(head), "position after skip")
	})

	t.Run("tag is skipped", func(t *testing.T) {
		// 10-byte header with syncsafe size 5, then 5 tag bytes, then payload.
		data := append([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 5}, []byte("TAGGGfLaC")...)
		r := bytes.NewReader(data)
		if err := skipID3v2(r); err != nil {
			t.Fatalf("skipID3v2() error: %v", err)
		}
		head := make([]byte, 4)
		if _, err := io.ReadFull(r, head); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, "fLaC", string(head), "position after skip")
	})

	t.Run("short file", func(t *testing.T) {
		r := bytes.NewReader([]byte("ID3"))
		assert.NoError(t, skipID3v2(r))
	})
}

func TestDecode_UnsupportedFormat(t *testing.T) {
	src := &byteSource{Reader: bytes.NewReader([]byte("data"))}
	_, _, err := decode(".aiff", src)
	assert.Error(t, err)
}

func TestMock_StateTransitions(t *testing.T) {
	m := NewMock()
	assert.Equal(t, Stopped, m.State())

	if err := m.PlayFile("/music/a.mp3"); err != nil {
		t.Fatalf("PlayFile() error: %v", err)
	}
	assert.Equal(t, Playing, m.State())

	m.Toggle()
	assert.Equal(t, Paused, m.State())
	m.Toggle()
	assert.Equal(t, Playing, m.State())

	m.SetPosition(30 * time.Second)
	m.Seek(-40 * time.Second)
	assert.Equal(t, time.Duration(0), m.Position(), "position after under-seek")

	m.SimulateFinished()
	assert.Equal(t, Stopped, m.State())
	select {
	case <-m.FinishedChan():
	default:
		t.Error("FinishedChan() empty after SimulateFinished")
	}
}
