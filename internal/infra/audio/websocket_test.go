package audio_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-session/internal/domain"
	"voice-session/internal/infra/audio"
)

type control struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
}

func pcm(samples ...int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

func connectClient(t *testing.T, source *audio.WebSocketSource) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(source)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !source.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readControl(t *testing.T, conn *websocket.Conn) control {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg control
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading control message: %v", err)
	}
	return msg
}

func TestWebSocketSource_NoClient(t *testing.T) {
	source := audio.NewWebSocketSource(16000, discardLogger())

	_, err := source.Open(context.Background())
	if !errors.Is(err, audio.ErrNoAudioClient) {
		t.Fatalf("got %v, want ErrNoAudioClient", err)
	}
	if errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Error("a missing client must not disable listening for good")
	}
}

func TestWebSocketSource_StreamsFrames(t *testing.T) {
	source := audio.NewWebSocketSource(16000, discardLogger())
	conn := connectClient(t, source)

	stream, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if got := readControl(t, conn); got.Type != "start" || got.SampleRate != 16000 {
		t.Errorf("control: got %+v, want start at 16000", got)
	}
	if f := stream.Format(); f.SampleRate != 16000 || f.Channels != 1 || f.BitDepth != 16 {
		t.Errorf("format: got %+v", f)
	}

	frame := append(pcm(1, -2, 300), 0x7f)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	chunk := next(t, stream)
	want := []int16{1, -2, 300}
	if len(chunk.Samples) != len(want) {
		t.Fatalf("samples: got %v, want %v", chunk.Samples, want)
	}
	for i := range want {
		if chunk.Samples[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, chunk.Samples[i], want[i])
		}
	}

	if err := stream.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if got := readControl(t, conn); got.Type != "stop" {
		t.Errorf("control: got %+v, want stop", got)
	}
	if _, ok := <-stream.Chunks(); ok {
		t.Error("chunks channel still open after Close")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err after Close: %v", err)
	}
}

func TestWebSocketSource_DropsFramesOutsideTurn(t *testing.T) {
	source := audio.NewWebSocketSource(16000, discardLogger())
	conn := connectClient(t, source)

	if err := conn.WriteMessage(websocket.BinaryMessage, pcm(9, 9, 9)); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stream, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	readControl(t, conn)

	if err := conn.WriteMessage(websocket.BinaryMessage, pcm(4, 5)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := next(t, stream).Samples; len(got) != 2 || got[0] != 4 {
		t.Errorf("first chunk: got %v, want [4 5]", got)
	}
}

func TestWebSocketSource_DisconnectFailsStream(t *testing.T) {
	source := audio.NewWebSocketSource(16000, discardLogger())
	conn := connectClient(t, source)

	stream, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	readControl(t, conn)

	conn.Close()

	select {
	case _, ok := <-stream.Chunks():
		if ok {
			t.Fatal("unexpected chunk")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after disconnect")
	}
	if stream.Err() == nil {
		t.Error("expected a capture error after disconnect")
	}

	deadline := time.Now().Add(2 * time.Second)
	for source.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketSource_SecondClientRejected(t *testing.T) {
	source := audio.NewWebSocketSource(16000, discardLogger())
	server := httptest.NewServer(source)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !source.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second client accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("response: got %v, want 409", resp)
	}
}
