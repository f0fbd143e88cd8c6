package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

type stubHealthChecker struct {
	report repositories.HealthReport
	err    error
}

func (s *stubHealthChecker) Collect(context.Context) (repositories.HealthReport, error) {
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthChecker)(nil)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %v", body["version"])
	}
	if body["commitSha"] != "abc123" {
		t.Fatalf("expected commit abc123, got %v", body["commitSha"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2025, 9, 1, 0, 1, 0, 0, time.UTC)
	checker := &stubHealthChecker{
		report: repositories.HealthReport{
			Healthy: true,
			Components: map[string]repositories.HealthComponent{
				"firestore": {Healthy: true, Latency: 10 * time.Millisecond},
			},
			CheckedAt: now,
		},
	}

	handlers := NewHealthHandlers(
		WithHealthChecker(checker),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %v", body.Details)
	}
	if body.Checks["firestore"].Status != "ok" {
		t.Fatalf("expected firestore check ok, got %+v", body.Checks["firestore"])
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	now := time.Date(2025, 9, 1, 0, 1, 0, 0, time.UTC)
	checker := &stubHealthChecker{
		report: repositories.HealthReport{
			Healthy: false,
			Components: map[string]repositories.HealthComponent{
				"pubsub": {Healthy: false, Detail: "publish failed"},
			},
			CheckedAt: now,
		},
	}

	handlers := NewHealthHandlers(
		WithHealthChecker(checker),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Fatalf("expected pubsub failure detail, got %v", body.Details)
	}
}
