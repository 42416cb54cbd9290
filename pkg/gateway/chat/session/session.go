// Package session runs one avatar chat connection: it owns the socket's
// read loop, the single outbound writer, the per-connection history, and the
// one-turn-at-a-time pipeline coordinator.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/protocol"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/metrics"
	"github.com/DaDanny/rpm-avatar/pkg/llm"
	"github.com/DaDanny/rpm-avatar/pkg/voice/stt"
	"github.com/DaDanny/rpm-avatar/pkg/voice/tts"
)

type Config struct {
	MaxMessageBytes   int64
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	TurnTimeout       time.Duration
	OutboundQueueSize int
	MaxHistoryLines   int
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
	Metrics     *metrics.Metrics
	SessionID   string
	RequestID   string
	Config      Config
}

// ChatSession drives one connection until the peer disconnects or the
// server shuts it down.
type ChatSession struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	transcriber stt.Transcriber
	responder   llm.Responder
	synthesizer tts.Synthesizer
	metrics     *metrics.Metrics
	sessionID   string
	requestID   string
	cfg         Config

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan []byte
	history  *historyManager

	busyMu sync.Mutex
	busy   bool

	wg sync.WaitGroup
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*ChatSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		conn:        deps.Conn,
		logger:      deps.Logger,
		transcriber: deps.Transcriber,
		responder:   deps.Responder,
		synthesizer: deps.Synthesizer,
		metrics:     deps.Metrics,
		sessionID:   deps.SessionID,
		requestID:   deps.RequestID,
		cfg:         deps.Config,
		ctx:         ctx,
		cancel:      cancel,
		outbound:    make(chan []byte, deps.Config.OutboundQueueSize),
		history:     newHistoryManager(deps.Config.MaxHistoryLines),
	}, nil
}

// Context is canceled when the session begins tearing down.
func (s *ChatSession) Context() context.Context { return s.ctx }

// Close asks the session to stop; Run returns shortly after.
func (s *ChatSession) Close() { s.cancel() }

func (s *ChatSession) Run() error {
	defer s.cancel()
	defer s.wg.Wait()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 16)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			outbound: s.outbound,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			if err := s.handleFrame(frame.data); err != nil {
				return err
			}
		}
	}
}

func (s *ChatSession) handleFrame(data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.logger.Warn("rejected inbound frame", "session_id", s.sessionID, "err", err)
		return s.sendJSON(protocol.NewError(err.Error(), protocol.ErrTypeConnection))
	}

	switch m := msg.(type) {
	case protocol.ClientClearContext:
		// Handled inline so a slow turn never blocks a reset.
		s.history.clear()
		return s.sendJSON(protocol.NewContextCleared())
	case protocol.ClientAudioMessage:
		if !s.beginTurn() {
			return s.rejectBusy()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.endTurn()
			s.runAudioTurn(m)
		}()
		return nil
	case protocol.ClientTextMessage:
		if !s.beginTurn() {
			return s.rejectBusy()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.endTurn()
			s.runTextTurn(m)
		}()
		return nil
	default:
		return nil
	}
}

func (s *ChatSession) rejectBusy() error {
	if s.metrics != nil {
		s.metrics.RecordBusyRejection()
	}
	return s.sendJSON(protocol.NewError("Still processing previous message", protocol.ErrTypeBusyRejected))
}

func (s *ChatSession) beginTurn() bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	if s.metrics != nil {
		s.metrics.RecordTurnStarted()
	}
	return true
}

// Cancel aborts the session and unblocks any in-flight turn.
func (s *ChatSession) Cancel() { s.cancel() }

// Notify pushes an out-of-band connection notice to the client. The session
// tracker uses it to warn clients before shutdown cancellation.
func (s *ChatSession) Notify(message string) error {
	return s.sendJSON(protocol.NewError(message, protocol.ErrTypeConnection))
}

func (s *ChatSession) endTurn() {
	s.busyMu.Lock()
	s.busy = false
	s.busyMu.Unlock()
}

func (s *ChatSession) turnContext() (context.Context, context.CancelFunc) {
	if s.cfg.TurnTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *ChatSession) runAudioTurn(msg protocol.ClientAudioMessage) {
	ctx, cancel := s.turnContext()
	defer cancel()
	started := time.Now()

	if err := s.sendJSON(protocol.NewProcessingStatus(protocol.StatusTranscribing)); err != nil {
		return
	}

	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.failTurn(protocol.ErrTypeAudioProcessing, "invalid base64 audio payload", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordAudioIn(len(audio))
	}
	transcribeStart := time.Now()
	transcript, err := s.transcriber.Transcribe(ctx, audio, msg.Format)
	if s.metrics != nil {
		s.metrics.RecordStage("transcribe", time.Since(transcribeStart).Seconds())
	}
	if err != nil {
		s.failTurn(protocol.ErrTypeAudioProcessing, turnFailureMessage(err, "Failed to process audio message"), err)
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		s.failTurn(protocol.ErrTypeAudioProcessing, "No speech detected in audio", nil)
		return
	}
	s.logger.Debug("transcribed audio turn",
		"session_id", s.sessionID,
		"format", msg.Format,
		"audio_bytes", len(audio),
		"elapsed", time.Since(started),
	)

	s.completeTurn(ctx, transcript, protocol.ErrTypeAudioProcessing, started)
}

func (s *ChatSession) runTextTurn(msg protocol.ClientTextMessage) {
	ctx, cancel := s.turnContext()
	defer cancel()
	s.completeTurn(ctx, strings.TrimSpace(msg.Text), protocol.ErrTypeTextProcessing, time.Now())
}

// completeTurn runs the generate and synthesize stages shared by both input
// kinds. The history snapshot is taken before the exchange is appended, so
// the prompt context never contains the utterance being answered.
func (s *ChatSession) completeTurn(ctx context.Context, userText, errType string, started time.Time) {
	if err := s.sendJSON(protocol.NewUserMessage(userText)); err != nil {
		return
	}
	historySnapshot := s.history.snapshot()

	if err := s.sendJSON(protocol.NewProcessingStatus(protocol.StatusGeneratingResponse)); err != nil {
		return
	}
	generateStart := time.Now()
	reply, err := s.responder.Respond(ctx, userText, historySnapshot)
	if s.metrics != nil {
		s.metrics.RecordStage("generate", time.Since(generateStart).Seconds())
	}
	if err != nil {
		s.failTurn(errType, turnFailureMessage(err, "Failed to generate AI response"), err)
		return
	}
	if err := s.sendJSON(protocol.NewAIResponse(reply)); err != nil {
		return
	}
	s.history.appendExchange(userText, reply)

	if err := s.sendJSON(protocol.NewProcessingStatus(protocol.StatusGeneratingAudio)); err != nil {
		return
	}
	synthesizeStart := time.Now()
	speech, err := s.synthesizer.Synthesize(ctx, reply)
	if s.metrics != nil {
		s.metrics.RecordStage("synthesize", time.Since(synthesizeStart).Seconds())
	}
	if err != nil {
		s.failTurn(errType, turnFailureMessage(err, "Failed to synthesize speech"), err)
		return
	}
	if err := s.sendJSON(protocol.NewAudioResponse(base64.StdEncoding.EncodeToString(speech), s.synthesizer.Format())); err != nil {
		return
	}
	if err := s.sendJSON(protocol.NewProcessingStatus(protocol.StatusComplete)); err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordAudioOut(len(speech))
		s.metrics.RecordTurnCompleted(time.Since(started).Seconds())
	}

	s.logger.Info("completed turn",
		"session_id", s.sessionID,
		"request_id", s.requestID,
		"user_chars", len(userText),
		"reply_chars", len(reply),
		"speech_bytes", len(speech),
		"elapsed", time.Since(started),
	)
}

func (s *ChatSession) failTurn(errType, message string, cause error) {
	if s.metrics != nil {
		s.metrics.RecordTurnFailed(errType)
	}
	s.logger.Error("turn failed",
		"session_id", s.sessionID,
		"request_id", s.requestID,
		"error_type", errType,
		"err", cause,
	)
	_ = s.sendJSON(protocol.NewError(message, errType))
}

func turnFailureMessage(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Processing timed out"
	}
	return fallback
}

func (s *ChatSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}
	select {
	case s.outbound <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *ChatSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}
