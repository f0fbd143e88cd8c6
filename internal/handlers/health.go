package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

// BuildInfo carries the build metadata reported by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves the /healthz and /readyz endpoints.
type HealthHandlers struct {
	build   BuildInfo
	checker repositories.HealthRepository
	clock   func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata included in health payloads.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthChecker sets the dependency checker consulted by /readyz.
func WithHealthChecker(checker repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.checker = checker
	}
}

// WithHealthClock injects a custom clock primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the health endpoints with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports process liveness and build metadata without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type readyzCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

type readyzResponse struct {
	Status    string                        `json:"status"`
	Checks    map[string]readyzCheckPayload `json:"checks,omitempty"`
	Details   []string                      `json:"details,omitempty"`
	Timestamp string                        `json:"timestamp"`
}

// Readyz probes downstream dependencies and reports 503 when any probe fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()

	if h.checker == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:    "ok",
			Timestamp: now.UTC().Format(time.RFC3339),
		})
		return
	}

	report, err := h.checker.Collect(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:    "degraded",
			Details:   []string{err.Error()},
			Timestamp: now.UTC().Format(time.RFC3339),
		})
		return
	}

	response := readyzResponse{
		Status:    "ok",
		Checks:    make(map[string]readyzCheckPayload, len(report.Components)),
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		component := report.Components[name]
		check := readyzCheckPayload{
			Status:    "ok",
			LatencyMS: component.Latency.Milliseconds(),
		}
		if !component.Healthy {
			check.Status = "degraded"
			check.Detail = component.Detail
			response.Details = append(response.Details, name+": "+component.Detail)
		}
		response.Checks[name] = check
	}

	status := http.StatusOK
	if !report.Healthy {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, response)
}
