//go:build speaker
// +build speaker

package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"voice-session/internal/domain"
)

// SpeakerPlayer plays speech on the default output device. The speaker is
// re-initialized when the sample rate of the payload changes.
type SpeakerPlayer struct {
	logger *slog.Logger

	mu   sync.Mutex
	rate beep.SampleRate
}

func NewSpeakerPlayer(logger *slog.Logger) *SpeakerPlayer {
	return &SpeakerPlayer{logger: logger}
}

func (p *SpeakerPlayer) Play(ctx context.Context, audio io.Reader) error {
	streamer, format, err := decodeSpeech(audio)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPlaybackFailure, err)
	}
	defer streamer.Close()

	if err := p.init(format.SampleRate); err != nil {
		return err
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		if err := streamer.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPlaybackFailure, err)
		}
		return nil
	case <-ctx.Done():
		speaker.Clear()
		p.logger.Debug("speaker playback stopped")
		return ctx.Err()
	}
}

func (p *SpeakerPlayer) init(rate beep.SampleRate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rate == rate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return fmt.Errorf("%w: initializing speaker: %v", domain.ErrPlaybackFailure, err)
	}
	p.rate = rate
	p.logger.Info("speaker initialized", "sampleRate", int(rate))
	return nil
}
