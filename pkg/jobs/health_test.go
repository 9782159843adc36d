package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/mailqueue/pkg/health"
)

func TestNewBackendHealthChecker(t *testing.T) {
	backend := newTestLocalBackend(t, fastQueueConfig())

	checker := NewBackendHealthChecker("", backend, time.Second)
	if checker.Name() != "jobs-backend-local" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy result, got %s", result.Status)
	}

	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy result after close, got %s", result.Status)
	}
}

func TestNewBackendHealthChecker_PersistentFailureDegrades(t *testing.T) {
	persistent := newFlakyPersistent(t)
	checker := NewBackendHealthChecker("redis", persistent, time.Second)
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy result, got %s", result.Status)
	}

	if err := persistent.LocalBackend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	result := checker.Check(context.Background())
	if result.Status != health.StatusDegraded || result.Error == "" {
		t.Fatalf("expected degraded result with error, got %+v", result)
	}
}

func TestNewCoordinatorHealthChecker_UnhealthyWhenLocalClosed(t *testing.T) {
	coordinator := newTestCoordinator(t, nil, CoordinatorConfig{})
	checker := NewCoordinatorHealthChecker("queue", coordinator)
	if checker.Name() != "queue" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}

	if err := coordinator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	result := checker.Check(context.Background())
	if result.Status != health.StatusUnhealthy || result.Error == "" {
		t.Fatalf("expected unhealthy result, got %+v", result)
	}
}
