package domain

import (
	"fmt"
	"time"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateListening
	StateSpeaking
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

// AudioChunk holds interleaved PCM16 samples. Producers hand over ownership of
// Samples and must not write to the slice afterwards.
type AudioChunk struct {
	Samples  []int16
	Received time.Time
}

// Utterance is the captured audio of one listening turn, in arrival order.
type Utterance struct {
	Format AudioFormat
	Chunks []AudioChunk
}

func (u Utterance) SampleCount() int {
	n := 0
	for _, c := range u.Chunks {
		n += len(c.Samples)
	}
	return n
}

func (u Utterance) Duration() time.Duration {
	if u.Format.SampleRate == 0 || u.Format.Channels == 0 {
		return 0
	}
	frames := u.SampleCount() / u.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(u.Format.SampleRate)
}
