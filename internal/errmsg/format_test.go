package errmsg

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		err  error
		want string
	}{
		{
			name: "nil error returns empty",
			op:   OpPlaybackStart,
			err:  nil,
			want: "",
		},
		{
			name: "simple error",
			op:   OpPlaybackStart,
			err:  errors.New("boom"),
			want: "Failed to start playback: boom",
		},
		{
			name: "sentinel error",
			op:   OpResolveSource,
			err:  ErrNoPlaybackSource,
			want: "Failed to resolve playback source: no playback source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.op, tt.err)
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatWith(t *testing.T) {
	err := errors.New("disk full")

	got := FormatWith(OpDownloadAlbum, "al-42", err)
	want := "Failed to download album 'al-42': disk full"
	if got != want {
		t.Errorf("FormatWith() = %q, want %q", got, want)
	}

	if FormatWith(OpDownloadAlbum, "", err) != Format(OpDownloadAlbum, err) {
		t.Error("FormatWith with empty context should match Format")
	}

	if FormatWith(OpDownloadAlbum, "al-42", nil) != "" {
		t.Error("FormatWith with nil error should return empty string")
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("fetch track tr-1: %w", ErrTimeout)
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("wrapped error should match ErrTimeout")
	}
	if errors.Is(wrapped, ErrUnauthorized) {
		t.Error("wrapped error should not match ErrUnauthorized")
	}
}
