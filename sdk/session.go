package avatar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Event is a typed server event emitted by Session.Events().
type Event interface {
	eventType() string
}

// ProcessingStatusEvent reports turn pipeline progress
// (transcribing, generating_response, generating_audio, complete).
type ProcessingStatusEvent struct{ Status string }

func (e ProcessingStatusEvent) eventType() string { return "processing_status" }

// UserMessageEvent echoes the user's turn text (the transcript for audio turns).
type UserMessageEvent struct{ Text string }

func (e UserMessageEvent) eventType() string { return "user_message" }

// AIResponseEvent carries the assistant's reply text.
type AIResponseEvent struct{ Text string }

func (e AIResponseEvent) eventType() string { return "ai_response" }

// AudioResponseEvent carries the synthesized reply audio, already decoded.
type AudioResponseEvent struct {
	Audio  []byte
	Format string
}

func (e AudioResponseEvent) eventType() string { return "audio_response" }

// ErrorEvent is a turn or connection failure. ErrorType follows the server
// taxonomy (audio_processing_error, text_processing_error, busy_rejected,
// connection_error).
type ErrorEvent struct {
	Message   string
	ErrorType string
}

func (e ErrorEvent) eventType() string { return "error" }

// Busy reports whether the error is a turn-in-flight rejection.
func (e ErrorEvent) Busy() bool { return e.ErrorType == protocol.ErrTypeBusyRejected }

type ContextClearedEvent struct{}

func (e ContextClearedEvent) eventType() string { return "context_cleared" }

// UnknownEvent preserves frames this client version does not understand.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// Header is added to the upgrade request (Origin, auth, tracing).
	Header http.Header
	// EventBuffer sizes the Events channel. Defaults to 64.
	EventBuffer int
}

// Session is a live chat connection to the avatar gateway. Events are
// delivered in server order on Events(); sends are safe for concurrent use.
type Session struct {
	conn *websocket.Conn

	events  chan Event
	done    chan struct{}
	closeCh chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the gateway chat endpoint. rawURL accepts ws://, wss://,
// http:// or https:// forms; an empty path defaults to /ws.
func Connect(ctx context.Context, rawURL string, opts ConnectOptions) (*Session, error) {
	wsURL, err := chatEndpointURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	s := &Session{
		conn:    conn,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func chatEndpointURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Events yields server events in delivery order. The channel closes when the
// session ends; check Err() afterwards for the terminal error.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendText submits a text turn.
func (s *Session) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	return s.sendJSON(protocol.ClientTextMessage{Type: "text_message", Text: text})
}

// SendAudio submits an audio turn. The clip is base64-encoded on the wire.
func (s *Session) SendAudio(audio []byte, format string) error {
	if len(audio) == 0 {
		return fmt.Errorf("audio must not be empty")
	}
	return s.sendJSON(protocol.ClientAudioMessage{
		Type:   "audio_message",
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: format,
	})
}

// ClearContext asks the server to drop the conversation history. Allowed at
// any time, including mid-turn.
func (s *Session) ClearContext() error {
	return s.sendJSON(protocol.ClientClearContext{Type: "clear_context"})
}

func (s *Session) sendJSON(v any) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close shuts the connection down and waits for the read loop to finish.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any, once the session has ended.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := decodeServerEvent(data)
		if err != nil {
			s.setErr(err)
			return
		}
		select {
		case s.events <- event:
		case <-s.closeCh:
			return
		}
	}
}

func decodeServerEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch envelope.Type {
	case "processing_status":
		var ev protocol.ServerProcessingStatus
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode processing_status: %w", err)
		}
		return ProcessingStatusEvent{Status: ev.Status}, nil
	case "user_message":
		var ev protocol.ServerUserMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode user_message: %w", err)
		}
		return UserMessageEvent{Text: ev.Text}, nil
	case "ai_response":
		var ev protocol.ServerAIResponse
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode ai_response: %w", err)
		}
		return AIResponseEvent{Text: ev.Text}, nil
	case "audio_response":
		var ev protocol.ServerAudioResponse
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode audio_response: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(ev.AudioBuffer)
		if err != nil {
			return nil, fmt.Errorf("decode audio_response payload: %w", err)
		}
		return AudioResponseEvent{Audio: audio, Format: ev.Format}, nil
	case "error":
		var ev protocol.ServerError
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ErrorEvent{Message: ev.Message, ErrorType: ev.ErrType}, nil
	case "context_cleared":
		return ContextClearedEvent{}, nil
	case "":
		return nil, fmt.Errorf("event missing type")
	default:
		return UnknownEvent{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
