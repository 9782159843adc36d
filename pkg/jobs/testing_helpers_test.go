package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

type testLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (l *testLogger) Debug(string, ...any) {}
func (l *testLogger) Info(string, ...any)  {}
func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}
func (l *testLogger) Error(string, ...any)                      {}
func (l *testLogger) With(...any) logger.Logger                 { return l }
func (l *testLogger) WithContext(context.Context) logger.Logger { return l }

func (l *testLogger) warned(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, warning := range l.warnings {
		if warning == msg {
			return true
		}
	}
	return false
}

// fastQueueConfig keeps retries and timeouts short enough for unit tests.
func fastQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency:       2,
		RetryBase:         10 * time.Millisecond,
		RetryCeiling:      40 * time.Millisecond,
		SignalTimeout:     2 * time.Second,
		CompletedCap:      5,
		FailedCap:         5,
		PromotionInterval: 20 * time.Millisecond,
		PromotionBatch:    10,
		PollInterval:      20 * time.Millisecond,
	}
}

func newTestLocalBackend(t *testing.T, cfg QueueConfig) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend(cfg, &testLogger{})
	if err != nil {
		t.Fatalf("new local backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func mustJob(t *testing.T, name string, opts EnqueueOptions) *Job {
	t.Helper()
	job, err := NewJob(name, []byte(`{"to":["ops@example.com"]}`), opts)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countsOf(t *testing.T, backend Backend) StateCounts {
	t.Helper()
	counts, err := backend.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	return counts
}
