package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

// ErrNoAudioClient is returned by WebSocketSource.Open while no remote client
// is connected.
var ErrNoAudioClient = errors.New("no remote audio client connected")

const (
	clientFrameBuffer = 32
	maxFrameBytes     = 64 * 1024
	controlTimeout    = 5 * time.Second
)

// WebSocketSource captures audio streamed by a remote client, typically the
// browser UI. The client connects once and sends binary frames of mono PCM16
// little-endian samples at the configured rate. Frames only reach a stream
// between Open and Close; the client is told when to send with "start" and
// "stop" text messages.
type WebSocketSource struct {
	sampleRate int
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	client *audioClient
}

type audioClient struct {
	conn   *websocket.Conn
	frames chan []int16
	gone   chan struct{}
	err    error

	writeMu sync.Mutex

	mu     sync.Mutex
	active bool
}

type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

func NewWebSocketSource(sampleRate int, logger *slog.Logger) *WebSocketSource {
	return &WebSocketSource{
		sampleRate: sampleRate,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (w *WebSocketSource) Name() string {
	return "websocket"
}

// Connected reports whether a remote client is attached.
func (w *WebSocketSource) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client != nil
}

// ServeHTTP accepts the remote client's connection. Only one client is
// attached at a time; others get 409.
func (w *WebSocketSource) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.Connected() {
		http.Error(rw, "audio client already connected", http.StatusConflict)
		return
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("audio websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &audioClient{
		conn:   conn,
		frames: make(chan []int16, clientFrameBuffer),
		gone:   make(chan struct{}),
	}

	w.mu.Lock()
	if w.client != nil {
		w.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "audio client already connected"),
			time.Now().Add(controlTimeout))
		conn.Close()
		return
	}
	w.client = c
	w.mu.Unlock()

	w.logger.Info("remote audio client connected", "remote_addr", r.RemoteAddr)

	c.err = c.read(w.logger)

	w.mu.Lock()
	if w.client == c {
		w.client = nil
	}
	w.mu.Unlock()
	close(c.gone)
	conn.Close()

	w.logger.Info("remote audio client disconnected", "remote_addr", r.RemoteAddr, "error", c.err)
}

func (w *WebSocketSource) Open(ctx context.Context) (application.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	c := w.client
	w.mu.Unlock()
	if c == nil {
		return nil, ErrNoAudioClient
	}

	c.setActive(true)
	if err := c.send(controlMessage{Type: "start", SampleRate: w.sampleRate}); err != nil {
		c.setActive(false)
		return nil, fmt.Errorf("starting remote capture: %w", err)
	}

	w.logger.Debug("remote capture started", "sample_rate", w.sampleRate)

	format := domain.AudioFormat{SampleRate: w.sampleRate, Channels: 1, BitDepth: 16}
	produce := func(s *chunkStream) error {
		for {
			select {
			case <-s.done:
				return nil
			case <-c.gone:
				return fmt.Errorf("remote audio client disconnected: %w", c.err)
			case samples := <-c.frames:
				if !s.emit(samples) {
					return nil
				}
			}
		}
	}
	release := func() error {
		c.setActive(false)
		select {
		case <-c.gone:
			return nil
		default:
		}
		if err := c.send(controlMessage{Type: "stop"}); err != nil {
			return fmt.Errorf("stopping remote capture: %w", err)
		}
		return nil
	}

	return startStream(format, 16, produce, release), nil
}

// read consumes frames until the connection fails. Frames that arrive while no
// stream is open, or faster than the stream drains them, are dropped.
func (c *audioClient) read(logger *slog.Logger) error {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		samples := decodePCM16(data)
		if len(samples) == 0 {
			continue
		}
		if !c.deliver(samples) {
			logger.Debug("dropping remote audio frame", "samples", len(samples))
		}
	}
}

func (c *audioClient) deliver(samples []int16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return true
	}
	select {
	case c.frames <- samples:
		return true
	default:
		return false
	}
}

// setActive switches frame delivery; deactivating discards queued frames.
func (c *audioClient) setActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = active
	if active {
		return
	}
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}

func (c *audioClient) send(msg controlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(controlTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// decodePCM16 reads little-endian samples; a trailing odd byte is ignored.
func decodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}
