package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voice-session/config"
	"voice-session/internal/application"
	"voice-session/internal/infra/audio"
	"voice-session/internal/infra/cart"
	"voice-session/internal/infra/tts"
	"voice-session/internal/infra/ui"
	"voice-session/internal/infra/whisper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		logger.Warn("config has problems, falling back to defaults where possible", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capture := createCaptureSource(cfg.Capture, logger)
	controller := application.NewController(
		capture,
		createSpeechToText(cfg.Transcription, logger),
		createSynthesizer(cfg.Speech, logger),
		createPlayer(cfg.Speech, logger),
		createSink(cfg.Cart, logger),
		controllerConfig(cfg, logger),
		logger,
	)

	server := ui.NewServer(ui.Options{
		Addr:               cfg.UI.Addr,
		AuthToken:          cfg.UI.AuthToken,
		RateLimitPerMinute: cfg.UI.RateLimitPerMinute,
		TrustProxy:         cfg.UI.TrustProxy,
	}, controller, logger)
	if remote, ok := capture.(http.Handler); ok {
		server.Handle("GET /capture", remote)
	}
	if err := server.Start(ctx); err != nil {
		logger.Error("starting UI server", "error", err)
		os.Exit(1)
	}

	logger.Info("voice session ready",
		"capture", cfg.Capture.Source,
		"player", cfg.Speech.Player,
		"cart", cfg.Cart.Enabled,
		"ui", cfg.UI.Addr,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdown(controller, server, logger)
}

// shutdown closes the session before the UI server so that playback started
// through the server ends as an interruption rather than a failure.
func shutdown(controller *application.Controller, server *ui.Server, logger *slog.Logger) {
	if err := controller.Close(); err != nil {
		logger.Error("closing voice session", "error", err)
	}
	if err := server.Stop(); err != nil {
		logger.Error("stopping UI server", "error", err)
	}
}

func controllerConfig(cfg *config.Config, logger *slog.Logger) application.ControllerConfig {
	c := application.DefaultControllerConfig()
	c.Endpoint = application.EndpointConfig{
		SilenceTimeout:  cfg.Endpoint.SilenceTimeoutDuration(logger),
		MaxDuration:     cfg.Endpoint.MaxTurnDuration(logger),
		EnergyThreshold: cfg.Endpoint.Threshold(),
	}
	c.TranscribeTimeout = cfg.Transcription.TimeoutDuration(logger)
	return c
}

func createCaptureSource(cfg config.CaptureConfig, logger *slog.Logger) application.CaptureSource {
	switch cfg.Source {
	case "file":
		return audio.NewFileSource(cfg.FilePath, cfg.SampleRate, cfg.ChunkDuration(), logger)
	case "microphone":
		return audio.NewMicrophoneSource(cfg.SampleRate, cfg.FramesPerBuffer, logger)
	case "websocket":
		return audio.NewWebSocketSource(cfg.SampleRate, logger)
	default:
		logger.Warn("unknown capture source, using microphone", "source", cfg.Source)
		return audio.NewMicrophoneSource(cfg.SampleRate, cfg.FramesPerBuffer, logger)
	}
}

func createSpeechToText(cfg config.TranscriptionConfig, logger *slog.Logger) application.SpeechToText {
	if cfg.APIKey == "" {
		logger.Warn("transcription.api_key not set, listening turns will fail to transcribe")
		return &application.NoopSTT{}
	}
	return whisper.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Language, cfg.TimeoutDuration(logger))
}

func createSynthesizer(cfg config.SpeechConfig, logger *slog.Logger) application.SpeechSynthesizer {
	if cfg.URL == "" {
		logger.Warn("speech.url not set, speak requests will fail")
	}
	return tts.NewClient(cfg.URL, cfg.Voice, cfg.AuthToken, 15*time.Second)
}

func createPlayer(cfg config.SpeechConfig, logger *slog.Logger) application.SpeechPlayer {
	switch cfg.Player {
	case "speaker":
		return audio.NewSpeakerPlayer(logger)
	case "silent":
		return audio.NewSilentPlayer(logger)
	default:
		logger.Warn("unknown speech player, using silent", "player", cfg.Player)
		return audio.NewSilentPlayer(logger)
	}
}

func createSink(cfg config.CartConfig, logger *slog.Logger) application.TranscriptSink {
	if !cfg.Enabled {
		return &application.NoopSink{}
	}
	client := cart.NewClient(cfg.BaseURL, cfg.UserID, cfg.AIMode, logger)
	logger.Info("forwarding transcripts to cart", "base_url", cfg.BaseURL, "session", client.SessionID())
	return client
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
