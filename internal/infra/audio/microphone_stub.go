//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct {
	logger *slog.Logger
}

func NewMicrophoneSource(sampleRate, framesPerBuffer int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{logger: logger}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Open(_ context.Context) (application.CaptureStream, error) {
	return nil, fmt.Errorf("%w: microphone source not available, rebuild with -tags portaudio", domain.ErrCaptureUnavailable)
}
