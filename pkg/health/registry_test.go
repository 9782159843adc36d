package health

import (
	"context"
	"testing"
	"time"
)

type stubChecker struct {
	name   string
	status Status
	delay  time.Duration
}

func (s *stubChecker) Check(ctx context.Context) CheckResult {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return CheckResult{Name: s.name, Status: s.status, Timestamp: time.Now()}
}

func (s *stubChecker) Name() string {
	return s.name
}

func TestRegistry_EmptyIsHealthy(t *testing.T) {
	result := NewRegistry().Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
	if len(result.Checks) != 0 {
		t.Fatalf("expected no checks, got %d", len(result.Checks))
	}
}

func TestRegistry_OverallStatusIsMostSevere(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
		serving  bool
	}{
		{name: "all healthy", statuses: []Status{StatusHealthy, StatusHealthy}, want: StatusHealthy, serving: true},
		{name: "one degraded", statuses: []Status{StatusHealthy, StatusDegraded}, want: StatusDegraded, serving: true},
		{name: "one unhealthy", statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, want: StatusUnhealthy, serving: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for idx, status := range tt.statuses {
				registry.Register(&stubChecker{name: string(rune('a' + idx)), status: status})
			}
			result := registry.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Status = %s, want %s", result.Status, tt.want)
			}
			if result.IsServing() != tt.serving {
				t.Errorf("IsServing() = %v, want %v", result.IsServing(), tt.serving)
			}
			if len(result.Checks) != len(tt.statuses) {
				t.Errorf("got %d checks, want %d", len(result.Checks), len(tt.statuses))
			}
		})
	}
}

func TestRegistry_ChecksRunConcurrently(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"one", "two", "three"} {
		registry.Register(&stubChecker{name: name, status: StatusHealthy, delay: 80 * time.Millisecond})
	}

	start := time.Now()
	result := registry.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("checks took %v, expected them to run in parallel", elapsed)
	}
	if result.Checks[0].Name != "one" || result.Checks[1].Name != "three" || result.Checks[2].Name != "two" {
		t.Fatalf("checks not sorted by name: %+v", result.Checks)
	}
}

func TestRegistry_RegisterReplacesAndUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubChecker{name: "queue", status: StatusUnhealthy})
	registry.Register(&stubChecker{name: "queue", status: StatusHealthy})

	if names := registry.Names(); len(names) != 1 || names[0] != "queue" {
		t.Fatalf("unexpected names %v", names)
	}
	if got := registry.Check(context.Background()).Status; got != StatusHealthy {
		t.Fatalf("expected replaced checker to be used, got %s", got)
	}

	registry.Unregister("queue")
	if names := registry.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
}
