package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/session"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/sessions"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/lifecycle"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/metrics"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/mw"
	"github.com/DaDanny/rpm-avatar/pkg/llm"
	"github.com/DaDanny/rpm-avatar/pkg/voice/stt"
	"github.com/DaDanny/rpm-avatar/pkg/voice/tts"
)

// ChatHandler upgrades /ws requests and runs one chat session per connection.
type ChatHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics

	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestID, _ := mw.RequestIDFrom(r.Context())

	upgrader := websocket.Upgrader{
		// Origin was already vetted against the allowlist above.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "request_id", requestID, "err", err)
		return
	}
	defer conn.Close()

	sessionID := "sess_" + uuid.NewString()

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      logger,
		Transcriber: h.Transcriber,
		Responder:   h.Responder,
		Synthesizer: h.Synthesizer,
		Metrics:     h.Metrics,
		SessionID:   sessionID,
		RequestID:   requestID,
		Config: session.Config{
			MaxMessageBytes:   h.Config.MaxMessageBytes,
			PingInterval:      h.Config.WSPingInterval,
			WriteTimeout:      h.Config.WSWriteTimeout,
			ReadTimeout:       h.Config.WSReadTimeout,
			TurnTimeout:       h.Config.TurnTimeout,
			OutboundQueueSize: h.Config.OutboundQueueSize,
			MaxHistoryLines:   h.Config.MaxHistoryLines,
		},
	})
	if err != nil {
		logger.Error("chat session init failed", "request_id", requestID, "err", err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordSessionStarted()
		defer h.Metrics.RecordSessionEnded()
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Notify: s.Notify,
		})
	}
	defer unregister()

	logger.Info("chat session started", "session_id", sessionID, "request_id", requestID, "remote_addr", r.RemoteAddr)
	if err := s.Run(); err != nil {
		logger.Warn("chat session ended with error", "session_id", sessionID, "request_id", requestID, "err", err)
	}
}

// originAllowed mirrors browser CORS for the upgrade request. Non-browser
// clients send no Origin header and are always admitted.
func (h ChatHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	return h.Config.OriginAllowed(origin)
}
