package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/lifecycle"
)

func TestHealthHandler_OK(t *testing.T) {
	h := HealthHandler{Config: config.Config{Environment: "test"}}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "OK" {
		t.Fatalf("status=%v", resp["status"])
	}
	if resp["environment"] != "test" {
		t.Fatalf("environment=%v", resp["environment"])
	}
	if resp["version"] != Version {
		t.Fatalf("version=%v", resp["version"])
	}
	if ts, _ := resp["timestamp"].(string); ts == "" {
		t.Fatalf("missing timestamp: %v", resp)
	}
}

func TestHealthHandler_Draining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := HealthHandler{Lifecycle: lc}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "draining" {
		t.Fatalf("status=%v", resp["status"])
	}
}

func TestInfoHandler_Root(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	InfoHandler{}.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		Name      string            `json:"name"`
		Status    string            `json:"status"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Name != "AI Avatar Chat Backend" || resp.Status != "running" {
		t.Fatalf("unexpected info payload: %+v", resp)
	}
	if resp.Endpoints["websocket"] != "/ws" || resp.Endpoints["health"] != "/health" {
		t.Fatalf("unexpected endpoints: %v", resp.Endpoints)
	}
}

func TestInfoHandler_UnknownPathIs404(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	InfoHandler{}.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}
