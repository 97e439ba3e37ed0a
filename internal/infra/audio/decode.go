package audio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// decodeSpeech sniffs the payload: RIFF is decoded as WAV, anything else as
// MP3, which is what most TTS endpoints stream.
func decodeSpeech(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(4)
	if len(head) == 0 {
		if err == nil || err == io.EOF {
			return nil, beep.Format{}, fmt.Errorf("empty audio payload")
		}
		return nil, beep.Format{}, fmt.Errorf("reading audio payload: %w", err)
	}

	if bytes.Equal(head, []byte("RIFF")) {
		s, format, err := wav.Decode(br)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decoding wav: %w", err)
		}
		return s, format, nil
	}

	s, format, err := mp3.Decode(io.NopCloser(br))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decoding mp3: %w", err)
	}
	return s, format, nil
}
