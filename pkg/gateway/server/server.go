package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/sessions"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/handlers"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/lifecycle"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/metrics"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/mw"
	"github.com/DaDanny/rpm-avatar/pkg/llm"
	"github.com/DaDanny/rpm-avatar/pkg/voice/stt"
	"github.com/DaDanny/rpm-avatar/pkg/voice/tts"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
	metrics   *metrics.Metrics
}

// Options carries the pipeline providers and shared process state. Nil
// Lifecycle, Sessions, or Metrics get fresh instances.
type Options struct {
	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer

	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = &lifecycle.Lifecycle{}
	}
	if opts.Sessions == nil {
		opts.Sessions = sessions.NewTracker()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: opts.Lifecycle,
		sessions:  opts.Sessions,
		metrics:   opts.Metrics,
	}
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	s.mux.Handle("/health", handlers.HealthHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/ws", handlers.ChatHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Lifecycle:   s.lifecycle,
		Sessions:    s.sessions,
		Metrics:     s.metrics,
		Transcriber: opts.Transcriber,
		Responder:   opts.Responder,
		Synthesizer: opts.Synthesizer,
	})
	s.mux.Handle("/", handlers.InfoHandler{})
}

// SetDraining flips the readiness flag so new upgrades are refused while
// existing sessions drain.
func (s *Server) SetDraining() { s.lifecycle.SetDraining(true) }

// WarnSessionsDraining tells every live chat session the process is going away.
func (s *Server) WarnSessionsDraining() int {
	return s.sessions.NotifyAll("Server is shutting down")
}

// WaitSessions blocks until all chat sessions finish or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool { return s.sessions.Wait(ctx) }

// CancelSessions force-cancels any chat sessions that outlived the grace period.
func (s *Server) CancelSessions() int { return s.sessions.CancelAll() }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
