// Package wav encodes PCM16 audio into self-describing RIFF/WAVE payloads.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the length of the canonical RIFF/WAVE header written by Encode.
const HeaderSize = 44

const bitsPerSample = 16

var ErrInvalidFormat = errors.New("invalid wav format")

// Encode writes samples (interleaved when channels > 1) as a PCM16 WAV file.
func Encode(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, sampleRate)
	}
	if channels <= 0 || channels > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFormat, channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames", ErrInvalidFormat, len(samples), channels)
	}

	blockAlign := channels * bitsPerSample / 8
	byteRate := uint64(sampleRate) * uint64(blockAlign)
	dataSize := uint64(len(samples)) * 2
	if byteRate > math.MaxUint32 || dataSize+HeaderSize-8 > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload too large", ErrInvalidFormat)
	}

	out := make([]byte, HeaderSize+int(dataSize))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(dataSize+HeaderSize-8))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(byteRate))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range samples {
		le.PutUint16(out[HeaderSize+i*2:], uint16(s))
	}

	return out, nil
}
