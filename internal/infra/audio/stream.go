package audio

import (
	"sync"
	"time"

	"voice-session/internal/domain"
)

// chunkStream adapts a blocking producer loop to application.CaptureStream.
// The producer owns the chunks channel and closes it when it returns.
type chunkStream struct {
	format domain.AudioFormat
	chunks chan domain.AudioChunk
	done   chan struct{}
	exited chan struct{}

	release    func() error
	closeOnce  sync.Once
	releaseErr error

	mu  sync.Mutex
	err error
}

func startStream(format domain.AudioFormat, buffer int, produce func(s *chunkStream) error, release func() error) *chunkStream {
	s := &chunkStream{
		format:  format,
		chunks:  make(chan domain.AudioChunk, buffer),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		release: release,
	}

	go func() {
		err := produce(s)
		if err != nil && !s.stopped() {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		close(s.chunks)
		close(s.exited)
	}()

	return s
}

func (s *chunkStream) Format() domain.AudioFormat {
	return s.format
}

func (s *chunkStream) Chunks() <-chan domain.AudioChunk {
	return s.chunks
}

func (s *chunkStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer, waits for it to exit and releases the device.
func (s *chunkStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.exited
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}

// emit hands samples to the consumer. It returns false once the stream has
// been closed and the producer should stop.
func (s *chunkStream) emit(samples []int16) bool {
	chunk := domain.AudioChunk{Samples: samples, Received: time.Now()}
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

func (s *chunkStream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
