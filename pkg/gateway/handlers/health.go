package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/lifecycle"
)

// Version is reported by the health and info endpoints.
const Version = "1.0.0"

type HealthHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		Environment string `json:"environment"`
		Version     string `json:"version"`
	}

	status := "OK"
	code := http.StatusOK
	if h.Lifecycle.IsDraining() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResp{
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.Config.Environment,
		Version:     Version,
	})
}

// InfoHandler serves the service description on "/". Because the root mux
// pattern matches every unrouted path, it doubles as the 404 handler.
type InfoHandler struct{}

func (h InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		return
	}

	type infoResp struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Status    string            `json:"status"`
		Endpoints map[string]string `json:"endpoints"`
	}
	_ = json.NewEncoder(w).Encode(infoResp{
		Name:    "AI Avatar Chat Backend",
		Version: Version,
		Status:  "running",
		Endpoints: map[string]string{
			"health":    "/health",
			"metrics":   "/metrics",
			"websocket": "/ws",
		},
	})
}
