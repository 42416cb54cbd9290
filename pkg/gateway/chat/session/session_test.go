package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/protocol"
)

type fakeTranscriber struct {
	text       string
	err        error
	gotFormat  string
	gotAudio   []byte
	callsCount int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, format string) (string, error) {
	f.callsCount++
	f.gotAudio = audio
	f.gotFormat = format
	return f.text, f.err
}

func (f *fakeTranscriber) Close() error { return nil }

type fakeResponder struct {
	reply      string
	err        error
	gotText    string
	gotHistory []string
}

func (f *fakeResponder) Respond(_ context.Context, text string, history []string) (string, error) {
	f.gotText = text
	f.gotHistory = append([]string(nil), history...)
	return f.reply, f.err
}

type fakeSynthesizer struct {
	audio []byte
	err   error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return f.audio, f.err
}

func (f *fakeSynthesizer) Format() string { return "mp3" }

func (f *fakeSynthesizer) Close() error { return nil }

func newTestSession(transcriber *fakeTranscriber, responder *fakeResponder, synthesizer *fakeSynthesizer) *ChatSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		logger:      slog.New(slog.DiscardHandler),
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		sessionID:   "sess_test",
		requestID:   "req_test",
		cfg:         Config{TurnTimeout: time.Minute},
		ctx:         ctx,
		cancel:      cancel,
		outbound:    make(chan []byte, 64),
		history:     newHistoryManager(6),
	}
}

func drainEvents(t *testing.T, s *ChatSession) []map[string]any {
	t.Helper()
	var events []map[string]any
	for {
		select {
		case payload := <-s.outbound:
			var m map[string]any
			if err := json.Unmarshal(payload, &m); err != nil {
				t.Fatalf("unmarshal outbound payload: %v", err)
			}
			events = append(events, m)
		default:
			return events
		}
	}
}

func eventLabel(e map[string]any) string {
	typ, _ := e["type"].(string)
	if typ == "processing_status" {
		status, _ := e["status"].(string)
		return typ + ":" + status
	}
	return typ
}

func TestAudioTurnEmitsEventsInOrder(t *testing.T) {
	transcriber := &fakeTranscriber{text: "hello avatar"}
	responder := &fakeResponder{reply: "Hi! Great to see you."}
	synthesizer := &fakeSynthesizer{audio: []byte("mp3-bytes")}
	s := newTestSession(transcriber, responder, synthesizer)
	defer s.cancel()

	s.runAudioTurn(protocol.ClientAudioMessage{
		Type:   "audio_message",
		Audio:  base64.StdEncoding.EncodeToString([]byte("clip")),
		Format: "wav",
	})

	events := drainEvents(t, s)
	want := []string{
		"processing_status:transcribing",
		"user_message",
		"processing_status:generating_response",
		"ai_response",
		"processing_status:generating_audio",
		"audio_response",
		"processing_status:complete",
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), events)
	}
	for i, e := range events {
		if eventLabel(e) != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, eventLabel(e), want[i])
		}
	}

	if transcriber.gotFormat != "wav" || string(transcriber.gotAudio) != "clip" {
		t.Fatalf("transcriber saw format=%q audio=%q", transcriber.gotFormat, transcriber.gotAudio)
	}
	if events[1]["text"] != "hello avatar" {
		t.Fatalf("user_message text = %v", events[1]["text"])
	}
	if events[3]["text"] != "Hi! Great to see you." {
		t.Fatalf("ai_response text = %v", events[3]["text"])
	}
	wantAudio := base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))
	if events[5]["audioBuffer"] != wantAudio || events[5]["format"] != "mp3" {
		t.Fatalf("audio_response = %v", events[5])
	}
}

func TestTextTurnSkipsTranscription(t *testing.T) {
	transcriber := &fakeTranscriber{}
	responder := &fakeResponder{reply: "Sure thing."}
	synthesizer := &fakeSynthesizer{audio: []byte("x")}
	s := newTestSession(transcriber, responder, synthesizer)
	defer s.cancel()

	s.runTextTurn(protocol.ClientTextMessage{Type: "text_message", Text: "  tell me more  "})

	events := drainEvents(t, s)
	want := []string{
		"user_message",
		"processing_status:generating_response",
		"ai_response",
		"processing_status:generating_audio",
		"audio_response",
		"processing_status:complete",
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), events)
	}
	for i, e := range events {
		if eventLabel(e) != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, eventLabel(e), want[i])
		}
	}
	if transcriber.callsCount != 0 {
		t.Fatal("text turn should not call the transcriber")
	}
	if responder.gotText != "tell me more" {
		t.Fatalf("responder saw %q, want trimmed text", responder.gotText)
	}
}

func TestBusySecondSubmissionRejected(t *testing.T) {
	s := newTestSession(&fakeTranscriber{}, &fakeResponder{reply: "ok"}, &fakeSynthesizer{audio: []byte("x")})
	defer s.cancel()

	if !s.beginTurn() {
		t.Fatal("first beginTurn should succeed")
	}
	if err := s.handleFrame([]byte(`{"type":"text_message","text":"again"}`)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	events := drainEvents(t, s)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0]["type"] != "error" || events[0]["errorType"] != protocol.ErrTypeBusyRejected {
		t.Fatalf("unexpected rejection event: %v", events[0])
	}

	s.endTurn()
	if !s.beginTurn() {
		t.Fatal("beginTurn should succeed after endTurn")
	}
}

func TestNoSpeechDetected(t *testing.T) {
	s := newTestSession(&fakeTranscriber{text: "   "}, &fakeResponder{}, &fakeSynthesizer{})
	defer s.cancel()

	s.runAudioTurn(protocol.ClientAudioMessage{
		Type:  "audio_message",
		Audio: base64.StdEncoding.EncodeToString([]byte("silence")),
	})

	events := drainEvents(t, s)
	if len(events) != 2 {
		t.Fatalf("got %d events, want transcribing + error: %v", len(events), events)
	}
	if eventLabel(events[0]) != "processing_status:transcribing" {
		t.Fatalf("first event = %v", events[0])
	}
	last := events[1]
	if last["type"] != "error" || last["errorType"] != protocol.ErrTypeAudioProcessing {
		t.Fatalf("unexpected error event: %v", last)
	}
	if last["message"] != "No speech detected in audio" {
		t.Fatalf("unexpected message: %v", last["message"])
	}
}

func TestInvalidBase64Audio(t *testing.T) {
	s := newTestSession(&fakeTranscriber{}, &fakeResponder{}, &fakeSynthesizer{})
	defer s.cancel()

	s.runAudioTurn(protocol.ClientAudioMessage{Type: "audio_message", Audio: "%%%not-base64%%%"})

	events := drainEvents(t, s)
	last := events[len(events)-1]
	if last["type"] != "error" || last["errorType"] != protocol.ErrTypeAudioProcessing {
		t.Fatalf("unexpected final event: %v", last)
	}
}

func TestResponderFailureUsesInputErrorType(t *testing.T) {
	responder := &fakeResponder{err: errors.New("model unavailable")}
	s := newTestSession(&fakeTranscriber{}, responder, &fakeSynthesizer{})
	defer s.cancel()

	s.runTextTurn(protocol.ClientTextMessage{Type: "text_message", Text: "hi"})

	events := drainEvents(t, s)
	last := events[len(events)-1]
	if last["type"] != "error" || last["errorType"] != protocol.ErrTypeTextProcessing {
		t.Fatalf("unexpected final event: %v", last)
	}
	if last["message"] != "Failed to generate AI response" {
		t.Fatalf("unexpected message: %v", last["message"])
	}
	if s.history.len() != 0 {
		t.Fatal("failed turn should not append to history")
	}
}

func TestSynthesizerFailureAfterReplyKeepsHistory(t *testing.T) {
	s := newTestSession(&fakeTranscriber{}, &fakeResponder{reply: "answer"}, &fakeSynthesizer{err: errors.New("tts down")})
	defer s.cancel()

	s.runTextTurn(protocol.ClientTextMessage{Type: "text_message", Text: "question"})

	events := drainEvents(t, s)
	last := events[len(events)-1]
	if last["type"] != "error" || last["errorType"] != protocol.ErrTypeTextProcessing {
		t.Fatalf("unexpected final event: %v", last)
	}
	// The exchange was generated and echoed before synthesis failed.
	if s.history.len() != 2 {
		t.Fatalf("history len = %d, want 2", s.history.len())
	}
}

func TestClearContextInline(t *testing.T) {
	s := newTestSession(&fakeTranscriber{}, &fakeResponder{}, &fakeSynthesizer{})
	defer s.cancel()
	s.history.appendExchange("hi", "hello")

	// clear_context is honored even while a turn is in flight.
	if !s.beginTurn() {
		t.Fatal("beginTurn failed")
	}
	if err := s.handleFrame([]byte(`{"type":"clear_context"}`)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	events := drainEvents(t, s)
	if len(events) != 1 || events[0]["type"] != "context_cleared" {
		t.Fatalf("unexpected events: %v", events)
	}
	if s.history.len() != 0 {
		t.Fatal("history should be empty after clear_context")
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	s := newTestSession(&fakeTranscriber{}, &fakeResponder{}, &fakeSynthesizer{})
	defer s.cancel()

	if err := s.handleFrame([]byte(`{"type":"interpretive_dance"}`)); err != nil {
		t.Fatalf("handleFrame should not fail the session: %v", err)
	}
	events := drainEvents(t, s)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0]["type"] != "error" || events[0]["errorType"] != protocol.ErrTypeConnection {
		t.Fatalf("unexpected event: %v", events[0])
	}
}

func TestHistoryWindowAndSnapshotOrder(t *testing.T) {
	responder := &fakeResponder{reply: "r"}
	s := newTestSession(&fakeTranscriber{}, responder, &fakeSynthesizer{audio: []byte("x")})
	defer s.cancel()

	s.runTextTurn(protocol.ClientTextMessage{Type: "text_message", Text: "first"})
	if len(responder.gotHistory) != 0 {
		t.Fatalf("first turn should see empty history, got %v", responder.gotHistory)
	}

	s.runTextTurn(protocol.ClientTextMessage{Type: "text_message", Text: "second"})
	want := []string{"User: first", "AI: r"}
	if len(responder.gotHistory) != len(want) {
		t.Fatalf("second turn history = %v, want %v", responder.gotHistory, want)
	}
	for i := range want {
		if responder.gotHistory[i] != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, responder.gotHistory[i], want[i])
		}
	}

	for i := 0; i < 5; i++ {
		s.history.appendExchange("u", "a")
	}
	snap := s.history.snapshot()
	if len(snap) != 6 {
		t.Fatalf("snapshot len = %d, want window of 6", len(snap))
	}
}

func TestHistoryStorageStaysBounded(t *testing.T) {
	h := newHistoryManager(6)
	for i := 0; i < 50; i++ {
		h.appendExchange("u", "a")
	}
	if got := h.len(); got != 6 {
		t.Fatalf("stored history holds %d lines after 50 exchanges, want 6", got)
	}

	h.clear()
	h.appendExchange("only user", "only ai")
	snap := h.snapshot()
	if len(snap) != 2 || snap[0] != "User: only user" || snap[1] != "AI: only ai" {
		t.Fatalf("snapshot after eviction+clear = %v", snap)
	}
}
