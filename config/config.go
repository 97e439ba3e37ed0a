package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Endpoint      EndpointConfig      `yaml:"endpoint"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Speech        SpeechConfig        `yaml:"speech"`
	Cart          CartConfig          `yaml:"cart"`
	UI            UIConfig            `yaml:"ui"`
	Log           LogConfig           `yaml:"log"`
}

type CaptureConfig struct {
	Source          string `yaml:"source"`
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	FilePath        string `yaml:"file_path"`
	ChunkMS         int    `yaml:"chunk_ms"`
}

type EndpointConfig struct {
	SilenceTimeout string `yaml:"silence_timeout"`
	MaxDuration    string `yaml:"max_duration"`

	// nil means unset; an explicit 0 disables the voice activity check.
	EnergyThreshold *float64 `yaml:"energy_threshold"`
}

type TranscriptionConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Timeout  string `yaml:"timeout"`
}

type SpeechConfig struct {
	URL       string `yaml:"url"`
	Voice     string `yaml:"voice"`
	AuthToken string `yaml:"auth_token"`
	Player    string `yaml:"player"`
}

type CartConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	UserID  string `yaml:"user_id"`
	AIMode  string `yaml:"ai_mode"`
}

type UIConfig struct {
	Addr               string `yaml:"addr"`
	AuthToken          string `yaml:"auth_token"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TrustProxy         bool   `yaml:"trust_proxy"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	defaultSilenceTimeout = 1500 * time.Millisecond
	defaultMaxDuration    = 30 * time.Second
	defaultTimeout        = 30 * time.Second
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Capture.Source == "" {
		c.Capture.Source = "microphone"
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.FramesPerBuffer == 0 {
		c.Capture.FramesPerBuffer = 1024
	}
	if c.Capture.ChunkMS == 0 {
		c.Capture.ChunkMS = 64
	}
	if c.Endpoint.SilenceTimeout == "" {
		c.Endpoint.SilenceTimeout = "1.5s"
	}
	if c.Endpoint.MaxDuration == "" {
		c.Endpoint.MaxDuration = "30s"
	}
	if c.Endpoint.EnergyThreshold == nil {
		threshold := 0.01
		c.Endpoint.EnergyThreshold = &threshold
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Transcription.Timeout == "" {
		c.Transcription.Timeout = "30s"
	}
	if c.Speech.Player == "" {
		c.Speech.Player = "silent"
	}
	if c.Cart.UserID == "" {
		c.Cart.UserID = "voice-user"
	}
	if c.UI.Addr == "" {
		c.UI.Addr = ":8090"
	}
	if c.UI.RateLimitPerMinute == 0 {
		c.UI.RateLimitPerMinute = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Capture.Source {
	case "microphone", "websocket":
	case "file":
		if c.Capture.FilePath == "" {
			errs = append(errs, errors.New("capture.file_path is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.source: unknown value %q (want microphone, file or websocket)", c.Capture.Source))
	}
	if c.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate))
	}
	if t := c.Endpoint.Threshold(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("endpoint.energy_threshold must be within 0-1, got %v", t))
	}
	if c.Transcription.APIKey == "" {
		errs = append(errs, errors.New("transcription.api_key is required"))
	}
	switch c.Speech.Player {
	case "speaker", "silent":
	default:
		errs = append(errs, fmt.Errorf("speech.player: unknown value %q (want speaker or silent)", c.Speech.Player))
	}
	if c.Cart.Enabled && c.Cart.BaseURL == "" {
		errs = append(errs, errors.New("cart.base_url is required when the cart is enabled"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown value %q (want text or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (e EndpointConfig) SilenceTimeoutDuration(logger *slog.Logger) time.Duration {
	return parseDuration(logger, "endpoint.silence_timeout", e.SilenceTimeout, defaultSilenceTimeout)
}

func (e EndpointConfig) Threshold() float64 {
	if e.EnergyThreshold == nil {
		return 0
	}
	return *e.EnergyThreshold
}

func (e EndpointConfig) MaxTurnDuration(logger *slog.Logger) time.Duration {
	return parseDuration(logger, "endpoint.max_duration", e.MaxDuration, defaultMaxDuration)
}

func (t TranscriptionConfig) TimeoutDuration(logger *slog.Logger) time.Duration {
	return parseDuration(logger, "transcription.timeout", t.Timeout, defaultTimeout)
}

func (c CaptureConfig) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkMS) * time.Millisecond
}

func parseDuration(logger *slog.Logger, key, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		logger.Warn("invalid duration, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}
