package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/mailqueue/pkg/health"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/metrics"
	"github.com/nimburion/mailqueue/pkg/version"
)

type fakeQueue struct {
	status    jobs.Status
	statusErr error
	byState   map[jobs.State][]*jobs.Job
	listErr   error
	byID      map[string]*jobs.Job
}

func (q *fakeQueue) Status(context.Context) (jobs.Status, error) {
	return q.status, q.statusErr
}

func (q *fakeQueue) List(_ context.Context, state jobs.State) ([]*jobs.Job, error) {
	if q.listErr != nil {
		return nil, q.listErr
	}
	return q.byState[state], nil
}

func (q *fakeQueue) Job(_ context.Context, jobID string) (*jobs.Job, error) {
	job, ok := q.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, jobs.ErrNotFound)
	}
	return job, nil
}

func statusChecker(name string, status health.Status) health.Checker {
	return health.NewCustomChecker(name, func(context.Context) (health.Status, string, map[string]any, error) {
		return status, "", nil, nil
	})
}

func newTestManagementServer(t *testing.T, queue Queue, registry *health.Registry) *ManagementServer {
	t.Helper()
	s, err := NewManagementServer(Config{}, nil, queue, registry, metrics.NewRegistry(), version.Info{
		Service: "mailqueue",
		Version: "1.2.3",
		Commit:  "abc123",
	})
	if err != nil {
		t.Fatalf("NewManagementServer() error = %v", err)
	}
	return s
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNewManagementServer_RequiresQueue(t *testing.T) {
	if _, err := NewManagementServer(Config{}, nil, nil, nil, nil, version.Info{}); err == nil {
		t.Fatal("expected error without queue")
	}
}

func TestManagementServer_Health(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "healthy" {
		t.Fatalf("body status = %v", body["status"])
	}
}

func TestManagementServer_Ready(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []health.Status
		wantCode   int
		wantStatus string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "healthy", statuses: []health.Status{health.StatusHealthy}, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "degraded still serves", statuses: []health.Status{health.StatusHealthy, health.StatusDegraded}, wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "unhealthy", statuses: []health.Status{health.StatusDegraded, health.StatusUnhealthy}, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := health.NewRegistry()
			for i, status := range tt.statuses {
				registry.Register(statusChecker(fmt.Sprintf("check-%d", i), status))
			}
			s := newTestManagementServer(t, &fakeQueue{}, registry)

			rec := doRequest(t, s.Handler(), http.MethodGet, "/ready")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body := decodeBody(t, rec); body["status"] != tt.wantStatus {
				t.Fatalf("body status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestManagementServer_Status(t *testing.T) {
	queue := &fakeQueue{status: jobs.Status{
		Counts:  jobs.StateCounts{Waiting: 2, Failed: 1},
		Backend: jobs.BackendLocal,
	}}
	s := newTestManagementServer(t, queue, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got jobs.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Backend != jobs.BackendLocal || got.Counts.Waiting != 2 || got.Counts.Failed != 1 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestManagementServer_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "closed", err: fmt.Errorf("status: %w", jobs.ErrClosed), wantCode: http.StatusServiceUnavailable},
		{name: "transient", err: fmt.Errorf("status: %w", jobs.ErrTransient), wantCode: http.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestManagementServer(t, &fakeQueue{statusErr: tt.err}, nil)
			rec := doRequest(t, s.Handler(), http.MethodGet, "/status")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestManagementServer_Jobs(t *testing.T) {
	queue := &fakeQueue{byState: map[jobs.State][]*jobs.Job{
		jobs.StateFailed: {
			{ID: "job-1", Name: "email.send", State: jobs.StateFailed, LastError: "smtp down"},
		},
	}}
	s := newTestManagementServer(t, queue, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/jobs/FAILED")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["state"] != "failed" || body["count"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
	list, ok := body["jobs"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("jobs = %v", body["jobs"])
	}
	if first := list[0].(map[string]any); first["id"] != "job-1" || first["last_error"] != "smtp down" {
		t.Fatalf("unexpected job %v", first)
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/jobs/waiting")
	if rec.Code != http.StatusOK {
		t.Fatalf("waiting status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(0) {
		t.Fatalf("waiting count = %v", body["count"])
	}
}

func TestManagementServer_JobsUnknownState(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/jobs/archived")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "invalid_argument" {
		t.Fatalf("error = %v", body["error"])
	}
	if !strings.Contains(body["message"].(string), "archived") {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestManagementServer_Job(t *testing.T) {
	queue := &fakeQueue{byID: map[string]*jobs.Job{
		"job-7": {ID: "job-7", Name: "email.send", State: jobs.StateDelayed, Attempts: 1},
	}}
	s := newTestManagementServer(t, queue, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/jobs/id/job-7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID != "job-7" || job.State != jobs.StateDelayed || job.Attempts != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/jobs/id/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestManagementServer_Version(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "mailqueue" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected version body %v", body)
	}
}

func TestManagementServer_MetricsExposeRequests(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	doRequest(t, s.Handler(), http.MethodGet, "/health")

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "http_requests_total") {
		t.Fatal("expected http_requests_total in metrics output")
	}
	if !strings.Contains(body, `path="/health"`) {
		t.Fatal("expected /health route label in metrics output")
	}
}

func TestManagementServer_NotFound(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "not_found" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestManagementServer_RequestID(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/health")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}
}

func TestManagementServer_RecoversPanics(t *testing.T) {
	s := newTestManagementServer(t, &fakeQueue{}, nil)
	s.engine.GET("/panic", func(*gin.Context) {
		panic("boom")
	})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "internal_server_error" || body["request_id"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestManagementServer_WithCoordinator(t *testing.T) {
	local, err := jobs.NewLocalBackend(jobs.QueueConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	coordinator, err := jobs.NewCoordinator(nil, local, nil, logger.NewNop(), jobs.CoordinatorConfig{})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Close() })

	jobID, err := coordinator.Enqueue(context.Background(), "email.send", []byte(`{}`), jobs.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	registry := health.NewRegistry()
	registry.Register(jobs.NewCoordinatorHealthChecker("", coordinator))
	s := newTestManagementServer(t, coordinator, registry)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["status"] != "degraded" {
		t.Fatalf("ready body status = %v, want degraded", body["status"])
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/status")
	var status jobs.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Backend != jobs.BackendLocal || status.Counts.Waiting != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	rec = doRequest(t, s.Handler(), http.MethodGet, "/jobs/id/"+jobID)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
