package domain

import "errors"

type ErrorKind string

const (
	KindCaptureUnavailable   ErrorKind = "capture_unavailable"
	KindCaptureFailure       ErrorKind = "capture_failure"
	KindEncodingFailure      ErrorKind = "encoding_failure"
	KindTranscriptionFailure ErrorKind = "transcription_failure"
	KindPlaybackFailure      ErrorKind = "playback_failure"
	KindUnknown              ErrorKind = "unknown"
)

// Adapters wrap these with %w so callers can classify failures with errors.Is.
var (
	ErrCaptureUnavailable   = errors.New("capture unavailable")
	ErrCaptureFailure       = errors.New("capture failure")
	ErrEncodingFailure      = errors.New("encoding failure")
	ErrTranscriptionFailure = errors.New("transcription failure")
	ErrPlaybackFailure      = errors.New("playback failure")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCaptureUnavailable, KindCaptureUnavailable},
	{ErrCaptureFailure, KindCaptureFailure},
	{ErrEncodingFailure, KindEncodingFailure},
	{ErrTranscriptionFailure, KindTranscriptionFailure},
	{ErrPlaybackFailure, KindPlaybackFailure},
}

// KindOf returns the taxonomy kind of err, or KindUnknown when err does not
// wrap one of the sentinels above.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
