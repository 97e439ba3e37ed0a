//go:build !speaker
// +build !speaker

package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"voice-session/internal/domain"
)

// SpeakerPlayer stub when speaker output is not compiled in
type SpeakerPlayer struct {
	logger *slog.Logger
}

func NewSpeakerPlayer(logger *slog.Logger) *SpeakerPlayer {
	return &SpeakerPlayer{logger: logger}
}

func (p *SpeakerPlayer) Play(_ context.Context, _ io.Reader) error {
	return fmt.Errorf("%w: speaker output not available, rebuild with -tags speaker", domain.ErrPlaybackFailure)
}
