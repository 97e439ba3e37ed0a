//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

// MicrophoneSource captures mono PCM16 from the default input device. Each
// Open initializes portaudio and the returned stream terminates it on Close.
type MicrophoneSource struct {
	sampleRate      int
	framesPerBuffer int
	logger          *slog.Logger
}

func NewMicrophoneSource(sampleRate, framesPerBuffer int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Open(ctx context.Context) (application.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %v", domain.ErrCaptureUnavailable, err)
	}

	buffer := make([]int16, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening input device: %v", domain.ErrCaptureUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	if err := ctx.Err(); err != nil {
		stream.Stop()
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}

	m.logger.Info("microphone started", "sampleRate", m.sampleRate, "framesPerBuffer", m.framesPerBuffer)

	format := domain.AudioFormat{SampleRate: m.sampleRate, Channels: 1, BitDepth: 16}

	produce := func(s *chunkStream) error {
		for !s.stopped() {
			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					m.logger.Debug("input overflowed, dropping frames")
					continue
				}
				return fmt.Errorf("reading from stream: %w", err)
			}
			samples := make([]int16, len(buffer))
			copy(samples, buffer)
			if !s.emit(samples) {
				return nil
			}
		}
		return nil
	}

	release := func() error {
		defer portaudio.Terminate()
		if err := stream.Stop(); err != nil {
			stream.Close()
			return fmt.Errorf("stopping stream: %w", err)
		}
		if err := stream.Close(); err != nil {
			return fmt.Errorf("closing stream: %w", err)
		}
		m.logger.Info("microphone released")
		return nil
	}

	return startStream(format, 16, produce, release), nil
}
