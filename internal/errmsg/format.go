// Package errmsg provides the playback/download error taxonomy and
// consistent error formatting for user-facing messages.
package errmsg

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers classify failures with errors.Is against these.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrServerUnreachable  = errors.New("server unreachable")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAssetValidation    = errors.New("asset validation failed")
	ErrPlaybackFailed     = errors.New("playback failed")
	ErrStreamInterrupted  = errors.New("stream interrupted")
	ErrNoPlaybackSource   = errors.New("no playback source")
	ErrAlreadyDownloading = errors.New("album download already in progress")
	ErrNothingDownloaded  = errors.New("no tracks could be downloaded")
	ErrPersistence        = errors.New("persistence failure")
)

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// Playback operations
	OpPlaybackStart Op = "start playback"
	OpPlaybackSeek  Op = "seek"
	OpResolveSource Op = "resolve playback source"

	// Catalog operations
	OpStreamNegotiate Op = "negotiate stream URL"
	OpTrackLookup     Op = "look up track"
	OpScrobble        Op = "scrobble track"

	// Download operations
	OpDownloadAlbum  Op = "download album"
	OpDownloadDelete Op = "delete downloaded album"
	OpDownloadClear  Op = "delete all downloads"
	OpIndexLoad      Op = "load download index"
	OpIndexSave      Op = "save download index"

	// Queue operations
	OpQueueSet  Op = "set playlist"
	OpQueueJump Op = "jump to queue entry"

	// Preferences
	OpStateLoad Op = "load saved preferences"
	OpStateSave Op = "save preferences"

	// Initialization
	OpInitialize Op = "initialize application"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}
