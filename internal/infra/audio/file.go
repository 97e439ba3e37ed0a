package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

const resampleQuality = 4

// FileSource replays a WAV file as if it were a microphone. Chunks are paced
// in real time; once the file is exhausted the stream keeps producing silence
// until it is closed.
type FileSource struct {
	path       string
	sampleRate int
	chunk      time.Duration
	logger     *slog.Logger
}

func NewFileSource(path string, sampleRate int, chunk time.Duration, logger *slog.Logger) *FileSource {
	if chunk <= 0 {
		chunk = 64 * time.Millisecond
	}
	return &FileSource{
		path:       path,
		sampleRate: sampleRate,
		chunk:      chunk,
		logger:     logger,
	}
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) Open(ctx context.Context) (application.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
		}
		return nil, fmt.Errorf("opening %s: %w", f.path, err)
	}

	decoded, format, err := wav.Decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}

	var source beep.Streamer = decoded
	target := beep.SampleRate(f.sampleRate)
	if format.SampleRate != target {
		source = beep.Resample(resampleQuality, format.SampleRate, target, decoded)
	}

	f.logger.Info("replaying audio file",
		"path", f.path,
		"fileRate", int(format.SampleRate),
		"channels", format.NumChannels,
		"length", format.SampleRate.D(decoded.Len()),
	)

	out := domain.AudioFormat{SampleRate: f.sampleRate, Channels: 1, BitDepth: 16}
	frames := target.N(f.chunk)
	if frames < 1 {
		frames = 1
	}

	produce := func(s *chunkStream) error {
		ticker := time.NewTicker(f.chunk)
		defer ticker.Stop()

		buf := make([][2]float64, frames)
		exhausted := false

		for {
			select {
			case <-s.done:
				return nil
			case <-ticker.C:
			}

			samples := make([]int16, frames)
			if !exhausted {
				n, ok := source.Stream(buf)
				for i := 0; i < n; i++ {
					samples[i] = toPCM16((buf[i][0] + buf[i][1]) / 2)
				}
				if !ok || n < frames {
					if err := source.Err(); err != nil {
						return fmt.Errorf("reading %s: %w", f.path, err)
					}
					exhausted = true
					f.logger.Debug("audio file exhausted, emitting silence", "path", f.path)
				}
			}

			if !s.emit(samples) {
				return nil
			}
		}
	}

	release := func() error {
		if err := decoded.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", f.path, err)
		}
		return nil
	}

	return startStream(out, 4, produce, release), nil
}

func toPCM16(v float64) int16 {
	v = math.Round(v * math.MaxInt16)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
