package player

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Info describes a decodable audio payload.
type Info struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// ProbeFile decodes a local file's header to verify it is playable.
func ProbeFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return probe(strings.ToLower(filepath.Ext(path)), f)
}

// ProbeBytes decodes an in-memory payload's header to verify it is playable.
// name carries the extension used to pick a decoder.
func ProbeBytes(name string, data []byte) (Info, error) {
	src := &byteSource{Reader: bytes.NewReader(data)}
	return probe(strings.ToLower(filepath.Ext(name)), src)
}

func probe(ext string, src io.ReadSeekCloser) (Info, error) {
	streamer, format, err := decode(ext, src)
	if err != nil {
		return Info{}, err
	}
	defer streamer.Close()

	if format.SampleRate <= 0 || format.NumChannels <= 0 {
		return Info{}, fmt.Errorf("invalid audio format: %d Hz, %d channels", format.SampleRate, format.NumChannels)
	}
	return Info{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Duration:   format.SampleRate.D(streamer.Len()),
	}, nil
}
