// Package health reports whether the service and its dependencies can do
// useful work. It serves liveness, readiness and detailed health endpoints
// and runs registered checks concurrently under a shared timeout.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exploopio/sentinel/pkg/core"
)

// =============================================================================
// Health Check Interface
// =============================================================================

// Checker is the interface for health checks.
type Checker interface {
	// Name returns the check name.
	Name() string

	// Check performs the health check.
	Check(ctx context.Context) CheckResult
}

// CheckFunc is a function type that implements Checker.
type CheckFunc func(ctx context.Context) CheckResult

func (f CheckFunc) Name() string                          { return "" }
func (f CheckFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// =============================================================================
// Health Status Types
// =============================================================================

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response is the full health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Uptime    time.Duration          `json:"uptime_seconds,omitempty"`
}

// =============================================================================
// Health Handler
// =============================================================================

// Handler manages health checks and provides HTTP endpoints.
type Handler struct {
	mu sync.RWMutex

	checks map[string]Checker

	version   string
	startTime time.Time
	timeout   time.Duration
	clock     core.Clock

	hideVersion bool
	hideUptime  bool
	hideDetails bool

	ready bool
}

// HandlerOption configures the health handler.
type HandlerOption func(*Handler)

// WithVersion sets the application version.
func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		h.version = version
	}
}

// WithTimeout sets the check timeout.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// WithClock overrides the time source.
func WithClock(clock core.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithSecureDefaults hides version, uptime and per-check details from
// responses.
func WithSecureDefaults() HandlerOption {
	return func(h *Handler) {
		h.hideVersion = true
		h.hideUptime = true
		h.hideDetails = true
	}
}

// NewHandler creates a new health handler. It starts not ready; call
// SetReady once the pipeline is wired.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		checks:  make(map[string]Checker),
		timeout: 5 * time.Second,
		clock:   core.SystemClock,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.clock()
	return h
}

// Register adds a health check.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// RegisterFunc adds a health check function.
func (h *Handler) RegisterFunc(name string, fn func(ctx context.Context) CheckResult) {
	h.Register(name, CheckFunc(fn))
}

// Unregister removes a health check.
func (h *Handler) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
}

// Names returns the registered check names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetReady sets the readiness state.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the readiness state.
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// =============================================================================
// Check Execution
// =============================================================================

// Check runs all registered health checks concurrently.
// Any unhealthy check makes the response unhealthy; otherwise any degraded
// check makes it degraded.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			start := h.clock()
			result := checker.Check(ctx)
			result.Duration = h.clock().Sub(start)
			result.Timestamp = h.clock()

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	response := Response{Status: overall, Timestamp: h.clock()}
	if !h.hideDetails {
		response.Checks = results
	}
	if !h.hideVersion && h.version != "" {
		response.Version = h.version
	}
	if !h.hideUptime {
		response.Uptime = h.clock().Sub(h.startTime)
	}
	return response
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// LivenessHandler reports healthy whenever the process can serve a request.
func (h *Handler) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    StatusHealthy,
			"timestamp": h.clock(),
		})
	})
}

// ReadinessHandler reports whether the service should receive traffic.
func (h *Handler) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    StatusUnhealthy,
				"message":   "service not ready",
				"timestamp": h.clock(),
			})
			return
		}

		response := h.Check(r.Context())
		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	})
}

// HealthHandler returns detailed results of every check.
func (h *Handler) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := h.Check(r.Context())

		code := http.StatusInternalServerError
		switch response.Status {
		case StatusHealthy, StatusDegraded:
			code = http.StatusOK
		case StatusUnhealthy:
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	})
}

// Mount registers /healthz, /readyz and /health on r.
func (h *Handler) Mount(r chi.Router) {
	r.Method(http.MethodGet, "/healthz", h.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", h.ReadinessHandler())
	r.Method(http.MethodGet, "/health", h.HealthHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
