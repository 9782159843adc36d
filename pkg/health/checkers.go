package health

import (
	"context"
	"time"
)

const defaultCheckTimeout = 5 * time.Second

// CheckFunc reports a status, a message, optional metadata and an error.
type CheckFunc func(ctx context.Context) (Status, string, map[string]any, error)

// Checkable is implemented by components exposing a connectivity check.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// run times fn and folds its outputs into a CheckResult.
func run(ctx context.Context, name string, fn CheckFunc) CheckResult {
	start := time.Now()
	status, message, metadata, err := fn(ctx)
	result := CheckResult{
		Name:      name,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// AdapterChecker wraps a Checkable. A failed or timed out HealthCheck yields
// the failure status, unhealthy unless changed with WithFailureStatus.
type AdapterChecker struct {
	name      string
	adapter   Checkable
	timeout   time.Duration
	onFailure Status
}

// NewAdapterChecker creates a checker for adapter. A zero timeout means 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout, onFailure: StatusUnhealthy}
}

// WithFailureStatus sets the status reported when the adapter check fails.
// Optional dependencies use StatusDegraded so readiness keeps serving.
func (c *AdapterChecker) WithFailureStatus(status Status) *AdapterChecker {
	c.onFailure = status
	return c
}

func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	return run(ctx, c.name, func(ctx context.Context) (Status, string, map[string]any, error) {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.adapter.HealthCheck(checkCtx); err != nil {
			return c.onFailure, "", nil, err
		}
		return StatusHealthy, "OK", nil, nil
	})
}

func (c *AdapterChecker) Name() string { return c.name }

// CustomChecker turns a CheckFunc into a Checker.
type CustomChecker struct {
	name string
	fn   CheckFunc
}

func NewCustomChecker(name string, fn CheckFunc) *CustomChecker {
	return &CustomChecker{name: name, fn: fn}
}

func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	return run(ctx, c.name, c.fn)
}

func (c *CustomChecker) Name() string { return c.name }
