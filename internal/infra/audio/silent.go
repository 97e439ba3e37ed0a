package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"voice-session/internal/domain"
)

const silentTick = 50 * time.Millisecond

// SilentPlayer decodes and consumes speech at playback speed without an
// output device, for headless hosts.
type SilentPlayer struct {
	logger *slog.Logger
}

func NewSilentPlayer(logger *slog.Logger) *SilentPlayer {
	return &SilentPlayer{logger: logger}
}

func (p *SilentPlayer) Play(ctx context.Context, audio io.Reader) error {
	streamer, format, err := decodeSpeech(audio)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPlaybackFailure, err)
	}
	defer streamer.Close()

	p.logger.Debug("silent playback", "sampleRate", int(format.SampleRate), "length", format.SampleRate.D(streamer.Len()))

	buf := make([][2]float64, format.SampleRate.N(silentTick))
	ticker := time.NewTicker(silentTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, ok := streamer.Stream(buf); !ok {
			if err := streamer.Err(); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrPlaybackFailure, err)
			}
			return nil
		}
	}
}
