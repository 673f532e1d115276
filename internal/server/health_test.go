package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(h *HealthServer, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decodeStatus(t *testing.T, r io.Reader) HealthStatus {
	t.Helper()
	var status HealthStatus
	if err := json.NewDecoder(r).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return status
}

func TestHealthServer_Healthz_OK(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := serve(h, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", got)
	}
	if status := decodeStatus(t, w.Body); status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %q", status.Status)
	}
}

func TestHealthServer_Healthz_ShuttingDown(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetShuttingDown()
	if !h.IsShuttingDown() {
		t.Fatal("should be shutting down after SetShuttingDown")
	}

	w := serve(h, http.MethodGet, "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status := decodeStatus(t, w.Body)
	if status.Status != StatusShuttingDown {
		t.Errorf("expected status 'shutting_down', got %q", status.Status)
	}
	if check, ok := status.Checks["shutdown"]; !ok || check.Healthy {
		t.Error("expected shutdown check to be unhealthy")
	}
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		if w := serve(h, http.MethodPost, path); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusMethodNotAllowed, w.Code)
		}
	}
}

func TestHealthServer_HeadMethod(t *testing.T) {
	h := NewHealthServer(":0", nil)
	w := serve(h, http.MethodHead, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body for HEAD, got %d bytes", w.Body.Len())
	}
}

func TestHealthServer_ExtraHandler(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.RegisterHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "shardorch_up 1\n")
	}))
	h.RegisterHandler("", nil)

	w := serve(h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || w.Body.String() != "shardorch_up 1\n" {
		t.Errorf("unexpected /metrics response: %d %q", w.Code, w.Body.String())
	}
}

func TestHealthServer_StartAndClose(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", nil)
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start health server: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + h.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	if err := h.Close(); err != nil {
		t.Errorf("failed to close health server: %v", err)
	}
}

func TestHealthServer_CloseWithoutStart(t *testing.T) {
	h := NewHealthServer(":0", nil)
	if err := h.Close(); err != nil {
		t.Errorf("Close() without Start() should not error: %v", err)
	}
	if h.Addr() != ":0" {
		t.Errorf("expected configured addr before Start, got %q", h.Addr())
	}
}
