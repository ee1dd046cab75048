// Package server exposes the chat session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/agent/session"
	"github.com/bookweather-chat/server/internal/core"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const (
	// ContentTypeStream is the media type of answer bodies.
	ContentTypeStream = "text/event-stream; charset=utf-8"

	notReadyMessage  = "Service is not ready"
	malformedMessage = "Request body must be a JSON object with a \"message\" string"

	defaultChatLogLimit = 20
	maxChatLogLimit     = 200
	maxBodyBytes        = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// ChatService prepares one answer run per request.
type ChatService interface {
	Prepare(ctx context.Context, query string) (*session.Run, error)
}

type Config struct {
	Addr         string        `envconfig:"HTTP_ADDR" default:":8000"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"300s"`
}

type Server struct {
	cfg     Config
	chat    ChatService
	chatLog model.ChatLogRepository
	env     core.Environment
	ready   atomic.Bool
	handler http.Handler
}

type Option func(*Server)

// WithChatLog exposes recent exchanges on GET /chatlog.
func WithChatLog(repo model.ChatLogRepository) Option {
	return func(s *Server) {
		s.chatLog = repo
	}
}

// WithEnvironment sets the deployment environment. Development and testing
// append the wrapped cause to 5xx details.
func WithEnvironment(env core.Environment) Option {
	return func(s *Server) {
		s.env = env
	}
}

// New builds the server. It starts ready when chat is non-nil and hides
// error causes unless WithEnvironment says otherwise.
func New(cfg Config, chat ChatService, opts ...Option) *Server {
	s := &Server{cfg: cfg, chat: chat, env: core.Production}
	for _, opt := range opts {
		opt(s)
	}
	s.ready.Store(chat != nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /liveness", s.handleLiveness)
	if s.chatLog != nil {
		mux.HandleFunc("GET /chatlog", s.handleChatLog)
	}
	s.handler = corsMiddleware(loggingMiddleware(mux))
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady toggles whether /chat accepts requests.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		s.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}()

	logx.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type chatRequest struct {
	Message *string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeDetail(w, http.StatusServiceUnavailable, notReadyMessage)
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil || req.Message == nil {
		writeDetail(w, http.StatusBadRequest, malformedMessage)
		return
	}

	run, err := s.chat.Prepare(r.Context(), *req.Message)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		run.Close()
		writeDetail(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", ContentTypeStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A failed write leaves the loop draining until the request context ends the run.
	broken := false
	for frame := range run.Stream() {
		if broken {
			continue
		}
		if _, err := w.Write([]byte(frame.Text())); err != nil {
			logx.Debug().Err(err).Msg("Client write failed")
			broken = true
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Detail: notReadyMessage})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Detail: "Service is healthy"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "alive", Detail: "Service is live"})
}

func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultChatLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxChatLogLimit)
	}

	entries, err := s.chatLog.Recent(r.Context(), limit)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to read chat log")
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.ChatLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type statusResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// writeError writes the safe message of err with its status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, detail := errx.StatusOf(err), errx.MessageOf(err)
	if cause := errx.CauseOf(err); cause != nil && status >= http.StatusInternalServerError && s.env.ExposesErrorCause() {
		detail += ": " + cause.Error()
	}
	writeDetail(w, status, detail)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
