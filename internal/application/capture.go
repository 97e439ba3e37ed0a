package application

import (
	"context"

	"voice-session/internal/domain"
)

// CaptureSource acquires a microphone-like input. The context bounds the
// acquisition only; the returned stream lives until Close.
type CaptureSource interface {
	Open(ctx context.Context) (CaptureStream, error)
	Name() string
}

// CaptureStream is one acquired input. Chunks is closed when the stream ends,
// either through Close or because the device failed, in which case Err
// reports why. Close is idempotent and must not block on an unread channel.
type CaptureStream interface {
	Format() domain.AudioFormat
	Chunks() <-chan domain.AudioChunk
	Err() error
	Close() error
}
