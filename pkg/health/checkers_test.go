package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type checkableFunc func(ctx context.Context) error

func (f checkableFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

func TestAdapterChecker(t *testing.T) {
	healthy := NewAdapterChecker("redis", checkableFunc(func(context.Context) error { return nil }), 0)
	if result := healthy.Check(context.Background()); result.Status != StatusHealthy || result.Name != "redis" {
		t.Fatalf("unexpected result %+v", result)
	}

	failing := NewAdapterChecker("redis", checkableFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), time.Second)
	result := failing.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
	if result.Error != "connection refused" {
		t.Fatalf("unexpected error %q", result.Error)
	}
}

func TestAdapterChecker_Timeout(t *testing.T) {
	slow := checkableFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	checker := NewAdapterChecker("slow", slow, 30*time.Millisecond)

	start := time.Now()
	result := checker.Check(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("check did not honour its timeout")
	}
	if result.Status != StatusUnhealthy || result.Error == "" {
		t.Fatalf("expected unhealthy result with error, got %+v", result)
	}
}

func TestAdapterChecker_FailureStatus(t *testing.T) {
	down := checkableFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	result := NewAdapterChecker("redis", down, time.Second).WithFailureStatus(StatusDegraded).Check(context.Background())
	if result.Status != StatusDegraded || result.Error == "" {
		t.Fatalf("expected degraded result with error, got %+v", result)
	}
	if !result.Timestamp.After(time.Time{}) {
		t.Fatal("expected timestamp")
	}
}

func TestCustomChecker(t *testing.T) {
	checker := NewCustomChecker("queue", func(context.Context) (Status, string, map[string]any, error) {
		return StatusDegraded, "running on local backend", map[string]any{"active_backend": "local"}, errors.New("redis unreachable")
	})
	result := checker.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", result.Status)
	}
	if result.Metadata["active_backend"] != "local" {
		t.Fatalf("metadata not propagated: %+v", result.Metadata)
	}
	if result.Error != "redis unreachable" || result.Message != "running on local backend" {
		t.Fatalf("unexpected result %+v", result)
	}
}
