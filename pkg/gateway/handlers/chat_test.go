package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/sessions"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/lifecycle"
)

type staticTranscriber struct{ text string }

func (s staticTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, nil
}
func (s staticTranscriber) Close() error { return nil }

type staticResponder struct{ reply string }

func (s staticResponder) Respond(context.Context, string, []string) (string, error) {
	return s.reply, nil
}

type staticSynthesizer struct{ audio []byte }

func (s staticSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return s.audio, nil
}
func (s staticSynthesizer) Format() string { return "mp3" }
func (s staticSynthesizer) Close() error   { return nil }

func newTestChatHandler() ChatHandler {
	return ChatHandler{
		Config: config.Config{
			WSPingInterval:    20 * time.Second,
			WSWriteTimeout:    5 * time.Second,
			OutboundQueueSize: 16,
			MaxHistoryLines:   6,
		},
		Logger:      slog.New(slog.DiscardHandler),
		Lifecycle:   &lifecycle.Lifecycle{},
		Sessions:    sessions.NewTracker(),
		Transcriber: staticTranscriber{text: "hello there"},
		Responder:   staticResponder{reply: "Hi! How can I help?"},
		Synthesizer: staticSynthesizer{audio: []byte("mp3-bytes")},
	}
}

func TestChatHandler_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ws", nil)
	rr := httptest.NewRecorder()
	newTestChatHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestChatHandler_DrainingRejected(t *testing.T) {
	h := newTestChatHandler()
	h.Lifecycle.SetDraining(true)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestChatHandler_OriginDenied(t *testing.T) {
	h := newTestChatHandler()
	h.Config.CORSAllowedOrigins = map[string]struct{}{"https://app.example.com": {}}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestChatHandler_TextTurnRoundTrip(t *testing.T) {
	h := newTestChatHandler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		defer resp.Body.Close()
	}

	if err := conn.WriteJSON(map[string]string{"type": "text_message", "text": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []string{"user_message", "processing_status", "ai_response", "processing_status", "audio_response", "processing_status"}
	for i, wantType := range want {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event %d: %v", i, err)
		}
		if ev.Type != wantType {
			t.Fatalf("event %d: type=%q want %q (payload %s)", i, ev.Type, wantType, data)
		}
	}
}
