package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestRedisBackendConfigNormalize(t *testing.T) {
	cfg := RedisBackendConfig{}
	cfg.normalize()

	if cfg.Prefix != defaultRedisPrefix {
		t.Fatalf("expected default redis prefix, got %q", cfg.Prefix)
	}
	if cfg.OperationTimeout != defaultRedisOperationTimeout {
		t.Fatalf("expected default operation timeout, got %v", cfg.OperationTimeout)
	}
	if cfg.Queue.Concurrency != DefaultConcurrency || cfg.Queue.CompletedCap != DefaultCompletedCap {
		t.Fatalf("expected queue defaults, got %+v", cfg.Queue)
	}
}

func TestNewRedisBackend_ValidationErrors(t *testing.T) {
	if _, err := NewRedisBackend(RedisBackendConfig{URL: "redis://localhost:6379"}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected logger validation error, got %v", err)
	}
	if _, err := NewRedisBackend(RedisBackendConfig{}, &testLogger{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected missing redis url error, got %v", err)
	}
	if _, err := NewRedisBackend(RedisBackendConfig{URL: "://bad-url"}, &testLogger{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected invalid redis url error, got %v", err)
	}
}

func TestNewRedisBackend_DoesNotConnect(t *testing.T) {
	backend, err := NewRedisBackend(RedisBackendConfig{
		URL:              "redis://127.0.0.1:1",
		OperationTimeout: 100 * time.Millisecond,
	}, &testLogger{})
	if err != nil {
		t.Fatalf("backend must be constructible while redis is down: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if backend.Kind() != BackendPersistent {
		t.Fatalf("unexpected kind %s", backend.Kind())
	}
	err = backend.Enqueue(context.Background(), mustJob(t, "email.send", EnqueueOptions{}))
	if !IsTransient(err) {
		t.Fatalf("expected transient enqueue error, got %v", err)
	}
	if err := backend.HealthCheck(context.Background()); !IsTransient(err) {
		t.Fatalf("expected transient health check error, got %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := backend.Counts(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRedisKeys(t *testing.T) {
	keys := newRedisKeys(" mail:jobs: ")
	tests := []struct {
		got  string
		want string
	}{
		{got: keys.waiting(), want: "mail:jobs:waiting"},
		{got: keys.delayed(), want: "mail:jobs:delayed"},
		{got: keys.active(), want: "mail:jobs:active"},
		{got: keys.completed(), want: "mail:jobs:completed"},
		{got: keys.failed(), want: "mail:jobs:failed"},
		{got: keys.signal(), want: "mail:jobs:signal"},
		{got: keys.jobPrefix(), want: "mail:jobs:job:"},
		{got: keys.job(" id-1 "), want: "mail:jobs:job:id-1"},
		{got: keys.probe("token"), want: "mail:jobs:probe:token"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestClassifyRedisError(t *testing.T) {
	if classifyRedisError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	if err := classifyRedisError("load job", redis.Nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "dial failure", err: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), transient: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "wrapped reply", err: fmt.Errorf("script: %w", replyError("WRONGTYPE Operation against a key")), transient: false},
		{name: "loading", err: replyError("LOADING Redis is loading the dataset in memory"), transient: true},
		{name: "readonly replica", err: replyError("READONLY You can't write against a read only replica."), transient: true},
		{name: "script error", err: replyError("ERR Error running script"), transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRedisError("enqueue job", tt.err)
			if IsTransient(err) != tt.transient {
				t.Fatalf("IsTransient(%v) = %v, want %v", err, IsTransient(err), tt.transient)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected original error to be preserved, got %v", err)
			}
		})
	}
}

func TestDecodeJobRecord(t *testing.T) {
	if _, _, err := decodeJobRecord("missing", []any{nil, nil}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := decodeJobRecord("bad", []any{"{not json", "waiting"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, _, err := decodeJobRecord("bad", []any{42, "waiting"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-string data, got %v", err)
	}

	job, state, err := decodeJobRecord("id-1", []any{`{"id":"id-1","name":"email.send","max_attempts":3,"state":"waiting"}`, "active"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state != StateActive || job.State != StateActive {
		t.Fatalf("expected hash state to win, got %s/%s", state, job.State)
	}
	if job.Name != "email.send" || job.MaxAttempts != 3 {
		t.Fatalf("unexpected job %+v", job)
	}
}
