// Package player wraps beep audio output behind a small playback interface.
// One track plays at a time; starting a new track stops the previous one.
package player

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

const (
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extOGG  = ".ogg"
	extOGA  = ".oga"
	extWAV  = ".wav"
)

var (
	speakerOnce       sync.Once
	speakerSampleRate beep.SampleRate
	speakerInitErr    error
)

// Player plays audio through the system speaker.
type Player struct {
	mu sync.Mutex

	state    State
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	closer   io.Closer
	duration time.Duration

	// gen identifies the currently playing track; finish callbacks from
	// superseded tracks are ignored.
	gen int

	volumeLevel float64
	finished    chan struct{}
}

// New creates a stopped player at full volume.
func New() *Player {
	return &Player{
		state:       Stopped,
		volumeLevel: 1,
		finished:    make(chan struct{}, 1),
	}
}

// PlayFile starts playback of a local audio file, replacing whatever was
// playing.
func (p *Player) PlayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	if err := p.play(strings.ToLower(filepath.Ext(path)), f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// PlayBytes starts playback of an in-memory payload. The extension of name
// selects the decoder.
func (p *Player) PlayBytes(name string, data []byte) error {
	src := &byteSource{Reader: bytes.NewReader(data)}
	return p.play(strings.ToLower(filepath.Ext(name)), src)
}

func (p *Player) play(ext string, src io.ReadSeekCloser) error {
	p.Stop()

	// Let a pending beep callback from the cleared track settle.
	time.Sleep(10 * time.Millisecond)

	// Drain any stale finish signal from the previous track.
	select {
	case <-p.finished:
	default:
	}

	streamer, format, err := decode(ext, src)
	if err != nil {
		return err
	}

	speakerOnce.Do(func() {
		speakerSampleRate = format.SampleRate
		speakerInitErr = speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10))
	})
	if speakerInitErr != nil {
		streamer.Close()
		return fmt.Errorf("init speaker: %w", speakerInitErr)
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.streamer = streamer
	p.format = format
	p.closer = src
	p.duration = format.SampleRate.D(streamer.Len())

	var playStreamer beep.Streamer = streamer
	if format.SampleRate != speakerSampleRate {
		playStreamer = beep.Resample(4, format.SampleRate, speakerSampleRate, streamer)
	}
	p.ctrl = &beep.Ctrl{Streamer: playStreamer}
	p.volume = &effects.Volume{Streamer: p.ctrl, Base: 2, Volume: levelToVolume(p.volumeLevel)}
	p.state = Playing
	p.mu.Unlock()

	speaker.Play(beep.Seq(p.volume, beep.Callback(func() {
		p.mu.Lock()
		stale := p.gen != gen
		p.mu.Unlock()
		if stale {
			return
		}
		select {
		case p.finished <- struct{}{}:
		default:
		}
	})))

	return nil
}

func decode(ext string, src io.ReadSeekCloser) (beep.StreamSeekCloser, beep.Format, error) {
	switch ext {
	case extMP3:
		return mp3.Decode(src)
	case extFLAC:
		if err := skipID3v2(src); err != nil {
			return nil, beep.Format{}, err
		}
		return flac.Decode(src)
	case extOGG, extOGA:
		return vorbis.Decode(src)
	case extWAV:
		return wav.Decode(src)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format: %s", ext)
	}
}

// Stop halts playback and releases the decoder. The finished channel is not
// signalled.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Stopped {
		return
	}
	p.gen++
	speaker.Clear()

	if p.streamer != nil {
		p.streamer.Close()
		p.streamer = nil
	}
	if p.closer != nil {
		p.closer.Close()
		p.closer = nil
	}
	p.ctrl = nil
	p.volume = nil
	p.duration = 0
	p.state = Stopped
}

// Pause pauses playback.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing || p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
	p.state = Paused
}

// Resume resumes paused playback.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Paused || p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
	p.state = Playing
}

// Toggle switches between playing and paused.
func (p *Player) Toggle() {
	switch p.State() {
	case Playing:
		p.Pause()
	case Paused:
		p.Resume()
	case Stopped:
		// Nothing to toggle.
	}
}

// State returns the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the playback position within the current track.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return 0
	}
	return p.format.SampleRate.D(p.streamer.Position())
}

// Duration returns the current track's length.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Seek moves the position by delta. Seeking past the end finishes the track.
func (p *Player) Seek(delta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil || p.state == Stopped {
		return
	}
	p.seekLocked(p.streamer.Position() + p.format.SampleRate.N(delta))
}

// SeekTo moves to an absolute position, clamped to the track bounds.
func (p *Player) SeekTo(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil || p.state == Stopped {
		return
	}
	p.seekLocked(p.format.SampleRate.N(pos))
}

// seekLocked seeks to a sample offset. Callers hold p.mu.
func (p *Player) seekLocked(newPos int) {
	if newPos >= p.streamer.Len() {
		select {
		case p.finished <- struct{}{}:
		default:
		}
		return
	}
	newPos = max(newPos, 0)

	speaker.Lock()
	_ = p.streamer.Seek(newPos)
	speaker.Unlock()
}

// SetVolume sets the output level in [0, 1], persisting across tracks.
func (p *Player) SetVolume(level float64) {
	level = math.Min(math.Max(level, 0), 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumeLevel = level
	if p.volume != nil {
		speaker.Lock()
		p.volume.Volume = levelToVolume(level)
		p.volume.Silent = level <= 0
		speaker.Unlock()
	}
}

// Volume returns the output level in [0, 1].
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumeLevel
}

// FinishedChan signals natural end of a track.
func (p *Player) FinishedChan() <-chan struct{} {
	return p.finished
}

// Close stops playback.
func (p *Player) Close() error {
	p.Stop()
	return nil
}

// levelToVolume converts a 0-1 level to beep's base-2 logarithmic volume.
// 1.0 -> 0 (unchanged), 0.5 -> -1 (half), 0.25 -> -2, 0 -> silent.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}

// skipID3v2 skips a prepended ID3v2 tag. Some taggers add one to FLAC files
// and the FLAC decoder cannot handle it.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := io.ReadFull(r, header)
	if err != nil || n < 10 || string(header[0:3]) != "ID3" {
		_, serr := r.Seek(0, io.SeekStart)
		return serr
	}

	// Syncsafe integer: 7 bits per byte.
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}

// byteSource adapts an in-memory payload to the decoder contract.
type byteSource struct {
	*bytes.Reader
}

func (*byteSource) Close() error { return nil }
