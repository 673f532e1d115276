// Package server exposes the liveness and readiness endpoints of a
// shardorchd instance.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shardorch/shardorch/internal/logging"
)

// ReadinessChecker is implemented by components that take part in /readyz:
// the coordinator, the metadata store and the archive bucket.
type ReadinessChecker interface {
	// Name is the key of the component in the check results.
	Name() string

	// CheckReady returns nil when the component is ready.
	CheckReady(ctx context.Context) error
}

// HealthServer serves /healthz for liveness probes and /readyz for
// readiness probes.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	extraHandlers    map[string]http.Handler
}

// HealthStatus is the JSON body of both endpoints.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Status values.
const (
	StatusOK           = "ok"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// NewHealthServer creates a HealthServer. Nothing listens until Start.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger.With(map[string]any{"component": "health"}),
		readinessTimeout: DefaultReadinessTimeout,
		extraHandlers:    make(map[string]http.Handler),
	}
}

// RegisterHandler mounts an extra handler, such as /metrics, next to the
// health endpoints. Call before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extraHandlers[pattern] = handler
}

// RegisterReadinessCheck adds a component to /readyz.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the per-check timeout.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetShuttingDown makes both endpoints report 503 from now on.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown reports whether SetShuttingDown was called.
func (h *HealthServer) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler returns the mux serving every endpoint.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.mu.RLock()
	extra := maps.Clone(h.extraHandlers)
	h.mu.RUnlock()
	for pattern, handler := range extra {
		mux.Handle(pattern, handler)
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start listens on the configured address and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:     h.Handler(),
		ReadTimeout: 5 * time.Second,
		// readiness checks may take up to readinessTimeout each
		WriteTimeout: 10 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close stops the server.
func (h *HealthServer) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.CheckHealth())
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.CheckReadiness(r.Context()))
}

func writeStatus(w http.ResponseWriter, r *http.Request, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != StatusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}

func (h *HealthServer) shutdownCheck(status *HealthStatus) bool {
	if h.shutDown.Load() {
		status.Status = StatusShuttingDown
		status.Checks["shutdown"] = CheckResult{Healthy: false, Message: "instance is shutting down"}
		return false
	}
	status.Checks["shutdown"] = CheckResult{Healthy: true, Message: "instance is running"}
	return true
}

// CheckHealth returns the liveness status. The process is live until it
// starts shutting down; coordination problems only affect readiness.
func (h *HealthServer) CheckHealth() HealthStatus {
	status := HealthStatus{Status: StatusOK, Checks: make(map[string]CheckResult)}
	h.shutdownCheck(&status)
	return status
}

// CheckReadiness runs every registered check.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: StatusOK, Checks: make(map[string]CheckResult)}
	if !h.shutdownCheck(&status) {
		return status
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.readinessChecks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = StatusNotReady
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
			continue
		}
		status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
	}
	return status
}
