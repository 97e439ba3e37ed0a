package application

import (
	"context"
	"fmt"
	"io"
)

type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// SpeechSynthesizer turns text into a streamable audio payload. The caller
// closes the returned reader.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// SpeechPlayer plays one payload. Play blocks until playback ends, fails, or
// ctx is cancelled, and must stop the output before returning.
type SpeechPlayer interface {
	Play(ctx context.Context, audio io.Reader) error
}

// NoopSTT is used when no transcription backend is configured.
type NoopSTT struct{}

func (n *NoopSTT) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "", fmt.Errorf("speech-to-text not configured: set transcription.api_key to enable audio transcription")
}
