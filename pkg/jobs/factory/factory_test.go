package factory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/mailqueue/pkg/config"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type testLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}
func (l *testLogger) Error(msg string, args ...any) {}
func (l *testLogger) With(args ...any) logger.Logger {
	return l
}
func (l *testLogger) WithContext(ctx context.Context) logger.Logger {
	return l
}

func TestNewQueue_LocalOnly(t *testing.T) {
	log := &testLogger{}
	queue, err := NewQueue(config.DefaultConfig(), log, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer queue.Close()

	if queue.Persistent != nil {
		t.Fatalf("expected no persistent backend without redis.url")
	}
	if queue.Metrics == nil {
		t.Fatalf("expected metrics with a registerer")
	}
	if got := queue.Coordinator.ActiveBackend(); got != jobs.BackendLocal {
		t.Fatalf("expected local backend, got %s", got)
	}
	if len(log.warnings) != 1 {
		t.Fatalf("expected one local-only warning, got %v", log.warnings)
	}
}

func TestNewQueue_RequiredRedisMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Required = true

	_, err := NewQueue(cfg, &testLogger{}, nil)
	if !errors.Is(err, jobs.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewQueue_WithRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	cfg.Redis.Prefix = "factory-test"

	log := &testLogger{}
	queue, err := NewQueue(cfg, log, nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer queue.Close()

	if queue.Persistent == nil {
		t.Fatalf("expected persistent backend")
	}
	if queue.Metrics != nil {
		t.Fatalf("expected no metrics without a registerer")
	}
	if len(log.warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", log.warnings)
	}
	if got := queue.Coordinator.Health(); got.IsAvailable {
		t.Fatalf("persistent backend must not be reported available before a probe")
	}
}

func TestNewQueue_InvalidRedisURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.URL = "redis://%zz"

	if _, err := NewQueue(cfg, &testLogger{}, nil); !errors.Is(err, jobs.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewQueue_Validation(t *testing.T) {
	if _, err := NewQueue(nil, &testLogger{}, nil); !errors.Is(err, jobs.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil config, got %v", err)
	}
	if _, err := NewQueue(config.DefaultConfig(), nil, nil); !errors.Is(err, jobs.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil logger, got %v", err)
	}

	registry := prometheus.NewRegistry()
	first, err := NewQueue(config.DefaultConfig(), &testLogger{}, registry)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer first.Close()
	if _, err := NewQueue(config.DefaultConfig(), &testLogger{}, registry); err == nil {
		t.Fatalf("expected duplicate metrics registration to fail")
	}
}

func TestNewQueue_RunsJobsLocally(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Queue.PollInterval = 10 * time.Millisecond

	queue, err := NewQueue(cfg, &testLogger{}, nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer queue.Close()

	done := make(chan string, 1)
	if err := queue.Coordinator.RegisterProcessor(func(ctx context.Context, job *jobs.Job) error {
		done <- job.ID
		return nil
	}); err != nil {
		t.Fatalf("register processor: %v", err)
	}
	if err := queue.Coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	jobID, err := queue.Coordinator.Enqueue(context.Background(), "email.send", []byte(`{}`), jobs.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case got := <-done:
		if got != jobID {
			t.Fatalf("expected job %s, got %s", jobID, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not processed")
	}
}

func TestConfigConversion(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Queue.Concurrency = 9
	cfg.Probe.Interval = 3 * time.Second
	cfg.Recovery.ActiveJobDelay = time.Second

	queueCfg := QueueConfig(cfg.Queue)
	if queueCfg.Concurrency != 9 || queueCfg.CompletedCap != 100 || queueCfg.RetryCeiling != 30*time.Second {
		t.Fatalf("unexpected queue config: %+v", queueCfg)
	}
	coordinatorCfg := CoordinatorConfig(cfg)
	if coordinatorCfg.ProbeInterval != 3*time.Second || coordinatorCfg.RecoveryMaxAttempts != 10 || coordinatorCfg.RecoveryActiveJobDelay != time.Second {
		t.Fatalf("unexpected coordinator config: %+v", coordinatorCfg)
	}
}
