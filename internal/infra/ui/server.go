package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-session/internal/application"
	"voice-session/internal/domain"
)

const (
	maxSpeakBytes = 8 * 1024
	eventBuffer   = 32
	writeTimeout  = 5 * time.Second
)

// Session is the slice of the voice controller the UI drives.
type Session interface {
	StartListening(ctx context.Context) error
	StopListening()
	Speak(ctx context.Context, req application.PlaybackRequest) *application.Playback
	CancelAll()
	State() domain.SessionState
	Transcript() string
	CaptureAvailable() bool
	Subscribe(buffer int) (<-chan application.Event, func())
}

type Options struct {
	Addr               string
	AuthToken          string
	RateLimitPerMinute int
	// TrustProxy rate limits by the forwarded client address instead of the
	// peer address.
	TrustProxy bool
}

// Server exposes the voice session to a browser or kiosk UI over HTTP, with
// session events pushed on a WebSocket.
type Server struct {
	addr        string
	session     Session
	logger      *slog.Logger
	mux         *http.ServeMux
	rateLimiter *RateLimiter
	authToken   string
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	server  *http.Server
	running bool
}

func NewServer(opts Options, session Session, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	limiter := NewRateLimiter(opts.RateLimitPerMinute, time.Minute)
	limiter.TrustProxy = opts.TrustProxy

	s := &Server{
		addr:        opts.Addr,
		session:     session,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: limiter,
		authToken:   opts.AuthToken,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.mux.HandleFunc("POST /listen", s.command(s.handleListen))
	s.mux.HandleFunc("POST /stop", s.command(s.handleStop))
	s.mux.HandleFunc("POST /speak", s.command(s.handleSpeak))
	s.mux.HandleFunc("POST /cancel", s.command(s.handleCancel))
	s.mux.HandleFunc("GET /state", s.requireToken(s.handleState))
	s.mux.HandleFunc("GET /events", s.requireToken(s.handleEvents))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Handle mounts an extra route behind the auth token, such as a remote
// capture endpoint. Call it before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.HandleFunc(pattern, s.requireToken(h.ServeHTTP))
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("UI server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

// Stop shuts the HTTP server down and ends open event streams.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()

	if !s.running {
		return nil
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := s.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	s.running = false
	return nil
}

func (s *Server) command(next http.HandlerFunc) http.HandlerFunc {
	return s.rateLimiter.Middleware(s.requireToken(next))
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				s.logger.Warn("unauthorized UI request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	err := s.session.StartListening(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.snapshot())
	case errors.Is(err, domain.ErrCaptureUnavailable), errors.Is(err, application.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, application.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("start listening", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.StopListening()
	writeJSON(w, http.StatusAccepted, s.snapshot())
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSpeakBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	if len(data) > maxSpeakBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "text too long")
		return
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		writeError(w, http.StatusBadRequest, "empty text")
		return
	}

	// Playback outlives the request.
	s.session.Speak(s.ctx, application.PlaybackRequest{Text: text})
	s.logger.Info("speak requested via UI", "chars", len(text))
	writeJSON(w, http.StatusAccepted, s.snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.session.CancelAll()
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"running":           running,
		"capture_available": s.session.CaptureAvailable(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.session.Subscribe(eventBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream opened", "remote_addr", r.RemoteAddr)

	snap := s.snapshot()
	if err := writeEvent(conn, eventMessage{Type: "snapshot", State: snap.State, Transcript: snap.Transcript, At: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeTimeout))
				return
			}
			if err := writeEvent(conn, toMessage(ev)); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

type stateResponse struct {
	State            string `json:"state"`
	Transcript       string `json:"transcript"`
	CaptureAvailable bool   `json:"capture_available"`
}

func (s *Server) snapshot() stateResponse {
	return stateResponse{
		State:            s.session.State().String(),
		Transcript:       s.session.Transcript(),
		CaptureAvailable: s.session.CaptureAvailable(),
	}
}

type eventMessage struct {
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Transcript string    `json:"transcript,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	TurnID     string    `json:"turn_id,omitempty"`
	At         time.Time `json:"at"`
}

func toMessage(ev application.Event) eventMessage {
	msg := eventMessage{
		Type:       string(ev.Type),
		State:      ev.State.String(),
		Transcript: ev.Transcript,
		TurnID:     ev.TurnID,
		At:         ev.At,
	}
	if ev.Type == application.EventError {
		msg.Kind = string(ev.Kind)
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
	}
	return msg
}

func writeEvent(conn *websocket.Conn, msg eventMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
