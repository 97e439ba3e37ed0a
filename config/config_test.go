package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "transcription:\n  api_key: sk-test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Capture.Source != "microphone" {
		t.Errorf("capture.source: got %q", cfg.Capture.Source)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.FramesPerBuffer != 1024 {
		t.Errorf("capture format: got %d/%d", cfg.Capture.SampleRate, cfg.Capture.FramesPerBuffer)
	}
	if cfg.Transcription.Model != "whisper-1" {
		t.Errorf("model: got %q", cfg.Transcription.Model)
	}
	if cfg.Speech.Player != "silent" {
		t.Errorf("player: got %q", cfg.Speech.Player)
	}
	if cfg.UI.Addr != ":8090" {
		t.Errorf("ui.addr: got %q", cfg.UI.Addr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log: got %q/%q", cfg.Log.Level, cfg.Log.Format)
	}

	logger := discardLogger()
	if got := cfg.Endpoint.SilenceTimeoutDuration(logger); got != 1500*time.Millisecond {
		t.Errorf("silence timeout: got %v", got)
	}
	if got := cfg.Endpoint.MaxTurnDuration(logger); got != 30*time.Second {
		t.Errorf("max duration: got %v", got)
	}
	if got := cfg.Endpoint.Threshold(); got != 0.01 {
		t.Errorf("energy threshold: got %v", got)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WHISPER_KEY", "sk-from-env")
	t.Setenv("TEST_UI_TOKEN", "kiosk")

	cfg, err := Load(writeConfig(t, `
transcription:
  api_key: ${TEST_WHISPER_KEY}
ui:
  auth_token: $TEST_UI_TOKEN
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Transcription.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q", cfg.Transcription.APIKey)
	}
	if cfg.UI.AuthToken != "kiosk" {
		t.Errorf("auth_token: got %q", cfg.UI.AuthToken)
	}
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
capture:
  source: file
  file_path: ./testdata/order.wav
  sample_rate: 22050
  chunk_ms: 20
endpoint:
  silence_timeout: 800ms
  max_duration: 10s
  energy_threshold: 0.05
transcription:
  api_key: sk-test
  base_url: http://localhost:9000/v1
  language: en
  timeout: 5s
speech:
  url: http://localhost:8000/tts
  voice: rachel
  player: speaker
cart:
  enabled: true
  base_url: http://localhost:8000
  user_id: shopper-42
  ai_mode: build_cart
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	logger := discardLogger()
	if got := cfg.Endpoint.SilenceTimeoutDuration(logger); got != 800*time.Millisecond {
		t.Errorf("silence timeout: got %v", got)
	}
	if got := cfg.Transcription.TimeoutDuration(logger); got != 5*time.Second {
		t.Errorf("timeout: got %v", got)
	}
	if got := cfg.Capture.ChunkDuration(); got != 20*time.Millisecond {
		t.Errorf("chunk: got %v", got)
	}
	if cfg.Cart.UserID != "shopper-42" || cfg.Cart.AIMode != "build_cart" {
		t.Errorf("cart: got %+v", cfg.Cart)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_ZeroThresholdIsKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "endpoint:\n  energy_threshold: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.EnergyThreshold == nil || cfg.Endpoint.Threshold() != 0 {
		t.Errorf("explicit zero threshold was replaced: %v", cfg.Endpoint.EnergyThreshold)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "capture: [unclosed")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestParseDuration_FallsBack(t *testing.T) {
	e := EndpointConfig{SilenceTimeout: "soon", MaxDuration: "-5s"}

	if got := e.SilenceTimeoutDuration(discardLogger()); got != defaultSilenceTimeout {
		t.Errorf("silence timeout: got %v", got)
	}
	if got := e.MaxTurnDuration(discardLogger()); got != defaultMaxDuration {
		t.Errorf("max duration: got %v", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Capture.Source = "bluetooth"
	cfg.Speech.Player = "hdmi"
	cfg.Cart.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{"capture.source", "transcription.api_key", "speech.player", "cart.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidate_FileSourceNeedsPath(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Transcription.APIKey = "sk-test"
	cfg.Capture.Source = "file"

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "file_path") {
		t.Errorf("got %v, want file_path error", err)
	}
}

func TestLoad_WebSocketCaptureBehindProxy(t *testing.T) {
	cfg, err := Load(writeConfig(t, `capture:
  source: websocket
transcription:
  api_key: sk-test
ui:
  trust_proxy: true
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.UI.TrustProxy {
		t.Error("trust_proxy not loaded")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}
