package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	mu     sync.Mutex
	chunks chan domain.AudioChunk
	closed bool
	err    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan domain.AudioChunk, 64)}
}

func (s *fakeStream) Format() domain.AudioFormat       { return domain.DefaultAudioFormat() }
func (s *fakeStream) Chunks() <-chan domain.AudioChunk { return s.chunks }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(samples ...int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.chunks <- domain.AudioChunk{Samples: samples, Received: time.Now()}
	return true
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
		s.closed = true
		close(s.chunks)
	}
}

type fakeCapture struct {
	mu        sync.Mutex
	streams   []*fakeStream
	opens     int
	maxActive int
	openErr   error
	gate      chan struct{}
	onOpen    func()
}

func (f *fakeCapture) Name() string { return "fake" }

func (f *fakeCapture) Open(ctx context.Context) (application.CaptureStream, error) {
	f.mu.Lock()
	f.opens++
	gate, hook, openErr := f.gate, f.onOpen, f.openErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	s := newFakeStream()
	f.mu.Lock()
	defer f.mu.Unlock()
	if active := f.activeLocked() + 1; active > f.maxActive {
		f.maxActive = active
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeCapture) activeLocked() int {
	n := 0
	for _, s := range f.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (f *fakeCapture) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *fakeCapture) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *fakeCapture) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeCapture) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeSTT struct {
	mu       sync.Mutex
	payloads [][]byte
	text     string
	err      error
	block    chan struct{}
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, audio)
	block, text, err := f.block, f.text, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (f *fakeSTT) calls() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

func (f *fakeTTS) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakePlayer struct {
	mu        sync.Mutex
	active    int
	maxActive int
	plays     int
	block     bool
	err       error
	started   chan struct{}
	onStart   func()
}

func newFakePlayer(block bool) *fakePlayer {
	return &fakePlayer{block: block, started: make(chan struct{}, 16)}
}

func (p *fakePlayer) Play(ctx context.Context, audio io.Reader) error {
	if _, err := io.ReadAll(audio); err != nil {
		return err
	}

	p.mu.Lock()
	p.active++
	p.plays++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	block, err, hook := p.block, p.err, p.onStart
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	select {
	case p.started <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePlayer) peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

func (p *fakePlayer) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

type fakeSink struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSink) Consume(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSink) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

var errBoom = errors.New("boom")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitEvent(t *testing.T, events <-chan application.Event, typ application.EventType) application.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", typ)
		}
	}
}
