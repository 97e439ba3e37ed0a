package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-session/internal/domain"
)

var (
	// ErrSuperseded is returned by StartListening when another request tore
	// the session down while the microphone was being acquired.
	ErrSuperseded = errors.New("superseded by a newer request")
	ErrClosed     = errors.New("voice session closed")
)

type ControllerConfig struct {
	Endpoint          EndpointConfig
	TranscribeTimeout time.Duration
	SinkTimeout       time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Endpoint:          DefaultEndpointConfig(),
		TranscribeTimeout: 30 * time.Second,
		SinkTimeout:       15 * time.Second,
	}
}

// Controller owns the voice session state machine. Exactly one of idle,
// listening and speaking is active; every exit from listening or speaking
// releases the microphone, the endpoint timer and the playback.
//
// Deferred capture and playback work (chunk delivery, endpoint timers,
// playback completion) carries the generation it was started under and is
// dropped once a teardown has moved the generation on. Transcriptions of
// finished turns carry their own epoch and survive Speak and StartListening;
// only CancelAll and Close drop them.
type Controller struct {
	capture CaptureSource
	stt     SpeechToText
	tts     SpeechSynthesizer
	player  SpeechPlayer
	sink    TranscriptSink
	cfg     ControllerConfig
	logger  *slog.Logger
	events  *broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       domain.SessionState
	gen         uint64
	transcript  string
	unavailable bool
	closed      bool

	turnID        string
	acquiring     bool
	cancelAcquire context.CancelFunc
	stream        CaptureStream
	detector      *EndpointDetector
	utterance     *UtteranceBuffer

	epoch          uint64
	transcribeSeq  uint64
	transcriptions map[uint64]context.CancelFunc

	cancelPlayback   context.CancelFunc
	playbackReleased chan struct{}
}

func NewController(
	capture CaptureSource,
	stt SpeechToText,
	tts SpeechSynthesizer,
	player SpeechPlayer,
	sink TranscriptSink,
	cfg ControllerConfig,
	logger *slog.Logger,
) *Controller {
	if sink == nil {
		sink = &NoopSink{}
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = DefaultControllerConfig().TranscribeTimeout
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultControllerConfig().SinkTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		capture: capture,
		stt:     stt,
		tts:     tts,
		player:  player,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		events:  newBroadcaster(),
		ctx:     ctx,
		cancel:  cancel,
		state:   domain.StateIdle,

		transcriptions: make(map[uint64]context.CancelFunc),
	}
}

func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// CaptureAvailable reports false once the capture source turned out to be
// unavailable; listening stays disabled for the rest of the session.
func (c *Controller) CaptureAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unavailable
}

// Subscribe returns a channel of session events in the order they happened.
// Events are dropped for a subscriber whose buffer is full.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// StartListening acquires the microphone and enters listening. It is a no-op
// while already listening or acquiring. Any playback is stopped before the
// microphone is opened.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.unavailable:
		c.mu.Unlock()
		return fmt.Errorf("listening disabled: %w", domain.ErrCaptureUnavailable)
	case c.state == domain.StateListening || c.acquiring:
		c.mu.Unlock()
		return nil
	}

	wait := c.teardownLocked("start listening")
	gen := c.gen
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.acquiring = true
	c.cancelAcquire = cancel
	c.mu.Unlock()

	wait()

	c.logger.Debug("acquiring capture source", "source", c.capture.Name())
	stream, err := c.capture.Open(openCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if err == nil {
			if closeErr := stream.Close(); closeErr != nil {
				c.logger.Warn("releasing superseded capture", "error", closeErr)
			}
		}
		return ErrSuperseded
	}
	c.acquiring = false
	c.cancelAcquire = nil

	if err != nil {
		if errors.Is(err, domain.ErrCaptureUnavailable) {
			c.unavailable = true
		}
		err = classify(fmt.Errorf("opening %s: %w", c.capture.Name(), err), domain.ErrCaptureFailure)
		c.reportLocked("", err)
		return err
	}

	c.turnID = uuid.NewString()
	c.transcript = ""
	c.stream = stream
	c.utterance = NewUtteranceBuffer(stream.Format())
	c.detector = NewEndpointDetector(c.cfg.Endpoint, func(reason EndReason) {
		c.handleEndpoint(gen, reason)
	})
	c.detector.Start()
	c.setStateLocked(domain.StateListening)

	c.logger.Info("listening", "turn", c.turnID, "source", c.capture.Name(), "sample_rate", stream.Format().SampleRate)

	go c.pump(gen, stream)
	return nil
}

// StopListening ends the turn as if silence had been detected. Outside of
// listening it only aborts a pending microphone acquisition.
func (c *Controller) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == domain.StateListening:
		c.finishListeningLocked(EndForced)
	case c.acquiring:
		c.teardownLocked("stop listening")
	}
}

// Speak interrupts whatever is active and plays text. An empty text is a
// no-op that still runs OnEnd if the session is idle. The returned Playback
// resolves when the playback ends, fails, or is interrupted.
func (c *Controller) Speak(ctx context.Context, req PlaybackRequest) *Playback {
	p := newPlayback()
	req.Text = strings.TrimSpace(req.Text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.resolve(ErrClosed)
		return p
	}

	if req.Text == "" {
		idle := c.state == domain.StateIdle && !c.acquiring
		c.mu.Unlock()
		if idle && req.OnEnd != nil {
			req.OnEnd(nil)
		}
		p.resolve(nil)
		return p
	}

	wait := c.teardownLocked("speak")
	gen := c.gen
	playCtx, cancel := context.WithCancel(ctx)
	released := make(chan struct{})
	c.cancelPlayback = cancel
	c.playbackReleased = released
	c.setStateLocked(domain.StateSpeaking)
	c.logger.Info("speaking", "chars", len(req.Text))
	c.mu.Unlock()

	go c.play(playCtx, cancel, gen, req, p, wait, released)
	return p
}

// CancelAll releases every resource and returns to idle. When it returns the
// microphone is closed and playback has stopped. Safe to call from any state.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	wait := c.teardownLocked("cancel")
	c.dropTranscriptionsLocked()
	c.mu.Unlock()

	wait()
}

// Close cancels everything, stops accepting requests and closes subscriber
// channels.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wait := c.teardownLocked("close")
	c.dropTranscriptionsLocked()
	c.mu.Unlock()

	wait()
	c.cancel()
	c.events.close()
	return nil
}

func (c *Controller) pump(gen uint64, stream CaptureStream) {
	for chunk := range stream.Chunks() {
		c.handleChunk(gen, chunk)
	}
	if err := stream.Err(); err != nil {
		c.handleCaptureFailure(gen, err)
	}
}

func (c *Controller) handleChunk(gen uint64, chunk domain.AudioChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != domain.StateListening {
		return
	}
	if err := c.utterance.Append(chunk); err != nil {
		c.logger.Debug("dropping chunk", "turn", c.turnID, "error", err)
		return
	}
	if c.detector.Observe(chunk) {
		c.logger.Debug("speech started", "turn", c.turnID)
		c.publishLocked(Event{Type: EventSpeechStarted, TurnID: c.turnID})
	}
}

func (c *Controller) handleCaptureFailure(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != domain.StateListening {
		return
	}
	turnID := c.turnID
	c.releaseCaptureLocked()
	c.setStateLocked(domain.StateIdle)
	c.reportLocked(turnID, classify(err, domain.ErrCaptureFailure))
}

func (c *Controller) handleEndpoint(gen uint64, reason EndReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != domain.StateListening {
		c.logger.Debug("ignoring stale endpoint", "reason", reason)
		return
	}
	c.finishListeningLocked(reason)
}

// Must be called with mu held and state listening.
func (c *Controller) finishListeningLocked(reason EndReason) {
	turnID := c.turnID
	utt := c.utterance
	duration := utt.Utterance().Duration()

	c.releaseCaptureLocked()
	c.setStateLocked(domain.StateIdle)

	logger := c.logger.With("turn", turnID)

	payload, err := utt.Flush()
	if errors.Is(err, ErrEmptyUtterance) {
		logger.Info("turn ended without audio", "reason", reason)
		return
	}
	if err != nil {
		c.reportLocked(turnID, classify(err, domain.ErrEncodingFailure))
		return
	}

	logger.Info("turn ended", "reason", reason, "duration", duration, "bytes", len(payload))

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TranscribeTimeout)
	c.transcribeSeq++
	seq := c.transcribeSeq
	c.transcriptions[seq] = cancel
	go c.transcribe(ctx, seq, c.epoch, turnID, payload)
}

func (c *Controller) transcribe(ctx context.Context, seq, epoch uint64, turnID string, payload []byte) {
	text, err := c.stt.Transcribe(ctx, payload)

	c.mu.Lock()
	if cancel, ok := c.transcriptions[seq]; ok {
		cancel()
		delete(c.transcriptions, seq)
	}
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping cancelled transcription", "turn", turnID)
		return
	}
	if err != nil {
		c.reportLocked(turnID, classify(fmt.Errorf("transcribing: %w", err), domain.ErrTranscriptionFailure))
		c.mu.Unlock()
		return
	}
	text = strings.TrimSpace(text)
	c.transcript = text
	c.publishLocked(Event{Type: EventTranscript, Transcript: text, TurnID: turnID})
	c.mu.Unlock()

	if text == "" {
		c.logger.Info("no speech recognized", "turn", turnID)
		return
	}
	c.logger.Info("transcribed", "turn", turnID, "text", text)

	sinkCtx, sinkCancel := context.WithTimeout(c.ctx, c.cfg.SinkTimeout)
	defer sinkCancel()
	if err := c.sink.Consume(sinkCtx, text); err != nil {
		c.logger.Error("forwarding transcript", "turn", turnID, "error", err)
	}
}

func (c *Controller) play(ctx context.Context, cancel context.CancelFunc, gen uint64, req PlaybackRequest, p *Playback, wait func(), released chan struct{}) {
	defer cancel()

	wait()
	err := c.playText(ctx, req.Text)
	close(released)

	if !c.finishSpeaking(gen, err) {
		p.resolve(ErrInterrupted)
		return
	}
	if req.OnEnd != nil {
		req.OnEnd(err)
	}
	p.resolve(err)
}

func (c *Controller) playText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	audio, err := c.tts.Synthesize(ctx, text)
	if err != nil {
		return classify(fmt.Errorf("synthesizing speech: %w", err), domain.ErrPlaybackFailure)
	}
	defer audio.Close()

	if err := c.player.Play(ctx, audio); err != nil {
		return classify(fmt.Errorf("playing speech: %w", err), domain.ErrPlaybackFailure)
	}
	return nil
}

// finishSpeaking returns false when the playback was superseded.
func (c *Controller) finishSpeaking(gen uint64, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != domain.StateSpeaking {
		return false
	}
	c.cancelPlayback = nil
	c.playbackReleased = nil
	if err != nil {
		c.reportLocked("", err)
	} else {
		c.logger.Info("playback finished")
	}
	c.setStateLocked(domain.StateIdle)
	return true
}

// teardownLocked invalidates the current generation, releases every resource
// and forces idle. The returned func blocks until a cancelled playback has
// released the player; call it without holding mu.
func (c *Controller) teardownLocked(reason string) func() {
	c.gen++

	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	c.acquiring = false

	c.releaseCaptureLocked()

	released := c.playbackReleased
	if c.cancelPlayback != nil {
		c.cancelPlayback()
		c.cancelPlayback = nil
	}
	c.playbackReleased = nil

	if c.state != domain.StateIdle {
		c.logger.Info("tearing down", "from", c.state, "reason", reason)
	}
	c.setStateLocked(domain.StateIdle)

	return func() {
		if released != nil {
			<-released
		}
	}
}

// dropTranscriptionsLocked cancels every pending transcription; their results
// are discarded when they come back.
func (c *Controller) dropTranscriptionsLocked() {
	c.epoch++
	for seq, cancel := range c.transcriptions {
		cancel()
		delete(c.transcriptions, seq)
	}
}

// Must be called with mu held.
func (c *Controller) releaseCaptureLocked() {
	if c.detector != nil {
		c.detector.Stop()
		c.detector = nil
	}
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.logger.Warn("releasing capture", "turn", c.turnID, "error", err)
		}
		c.stream = nil
	}
	c.utterance = nil
}

// Must be called with mu held.
func (c *Controller) setStateLocked(s domain.SessionState) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.logger.Debug("state changed", "from", prev, "to", s)
	c.publishLocked(Event{Type: EventStateChanged})
}

// Must be called with mu held.
func (c *Controller) reportLocked(turnID string, err error) {
	kind := domain.KindOf(err)
	c.logger.Error("voice session error", "kind", kind, "turn", turnID, "error", err)
	c.publishLocked(Event{Type: EventError, Kind: kind, Err: err, TurnID: turnID})
}

// Must be called with mu held.
func (c *Controller) publishLocked(ev Event) {
	ev.State = c.state
	ev.At = time.Now()
	c.events.publish(ev)
}

func classify(err error, sentinel error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
