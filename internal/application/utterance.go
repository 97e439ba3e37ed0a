package application

import (
	"errors"
	"fmt"

	"voice-session/internal/domain"
	"voice-session/internal/wav"
)

var (
	// ErrEmptyUtterance means the turn captured no audio and nothing should be
	// sent for transcription.
	ErrEmptyUtterance  = errors.New("utterance is empty")
	ErrUtteranceSealed = errors.New("utterance already flushed")
)

// UtteranceBuffer accumulates the chunks of one listening turn. It is not
// safe for concurrent use; the Controller serializes access.
type UtteranceBuffer struct {
	utt    domain.Utterance
	sealed bool
}

func NewUtteranceBuffer(format domain.AudioFormat) *UtteranceBuffer {
	return &UtteranceBuffer{
		utt: domain.Utterance{Format: format},
	}
}

func (b *UtteranceBuffer) Append(chunk domain.AudioChunk) error {
	if b.sealed {
		return ErrUtteranceSealed
	}
	if len(chunk.Samples) == 0 {
		return nil
	}
	b.utt.Chunks = append(b.utt.Chunks, chunk)
	return nil
}

func (b *UtteranceBuffer) Len() int {
	return len(b.utt.Chunks)
}

func (b *UtteranceBuffer) Utterance() domain.Utterance {
	return b.utt
}

// Flush seals the buffer and encodes every chunk into a single WAV payload.
func (b *UtteranceBuffer) Flush() ([]byte, error) {
	if b.sealed {
		return nil, ErrUtteranceSealed
	}
	b.sealed = true

	total := b.utt.SampleCount()
	if total == 0 {
		return nil, ErrEmptyUtterance
	}

	samples := make([]int16, 0, total)
	for _, c := range b.utt.Chunks {
		samples = append(samples, c.Samples...)
	}

	data, err := wav.Encode(samples, b.utt.Format.SampleRate, b.utt.Format.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding utterance: %w", domain.ErrEncodingFailure, err)
	}

	b.utt.Chunks = nil
	return data, nil
}
