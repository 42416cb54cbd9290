package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_RecordersAndHandler(t *testing.T) {
	m := New()

	m.RecordSessionStarted()
	m.RecordTurnStarted()
	m.RecordStage("transcribe", 0.12)
	m.RecordAudioIn(2048)
	m.RecordAudioOut(4096)
	m.RecordTurnCompleted(1.5)
	m.RecordTurnFailed("text_processing_error")
	m.RecordBusyRejection()
	m.RecordSessionEnded()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"avatar_sessions_started_total 1",
		"avatar_turns_started_total 1",
		"avatar_turns_completed_total 1",
		`avatar_turns_failed_total{error_type="text_processing_error"} 1`,
		"avatar_turns_rejected_busy_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordBusyRejection()

	rr := httptest.NewRecorder()
	b.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), "avatar_turns_rejected_busy_total 1") {
		t.Fatalf("registries must be independent")
	}
}
