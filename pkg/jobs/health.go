package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/nimburion/mailqueue/pkg/health"
)

const (
	defaultBackendHealthCheckName     = "jobs-backend"
	defaultCoordinatorHealthCheckName = "jobs-coordinator"
)

// NewBackendHealthChecker reports a backend unhealthy when its HealthCheck
// fails. The persistent backend has the local fallback behind it, so its
// failures only degrade the service.
func NewBackendHealthChecker(name string, backend Backend, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultBackendHealthCheckName+"-"+string(backend.Kind()))
	checker := health.NewAdapterChecker(checkName, backend, timeout)
	if backend.Kind() == BackendPersistent {
		checker.WithFailureStatus(health.StatusDegraded)
	}
	return checker
}

// NewCoordinatorHealthChecker is healthy while the persistent backend is
// active and degraded while jobs run on the local fallback. It turns
// unhealthy when the local backend itself stops answering.
func NewCoordinatorHealthChecker(name string, coordinator *Coordinator) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultCoordinatorHealthCheckName)
	return health.NewCustomChecker(checkName, func(ctx context.Context) (health.Status, string, map[string]any, error) {
		active := coordinator.ActiveBackend()
		recovery := coordinator.Health()
		metadata := map[string]any{
			"active_backend":    string(active),
			"recovery_attempts": recovery.RecoveryAttempts,
			"pending_recovery":  recovery.PendingRecovery,
		}
		if !recovery.LastCheckedAt.IsZero() {
			metadata["last_checked_at"] = recovery.LastCheckedAt
		}

		if err := coordinator.local.HealthCheck(ctx); err != nil {
			return health.StatusUnhealthy, "local backend unavailable", metadata, err
		}
		if active == BackendPersistent {
			return health.StatusHealthy, "persistent backend active", metadata, nil
		}
		if coordinator.persistent == nil {
			return health.StatusDegraded, "persistent backend not configured", metadata, nil
		}
		return health.StatusDegraded, "running on local fallback backend", metadata, nil
	})
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
