package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/mailqueue/pkg/observability/tracing"
	"github.com/nimburion/mailqueue/pkg/resilience"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	probeKeyTTL          = 10 * time.Second
)

// Prober checks whether the persistent backend accepts writes again.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// RedisProber opens a short-lived connection per probe, pings, writes, reads
// back and deletes a probe key, then closes the connection.
type RedisProber struct {
	options *redis.Options
	keys    redisKeys
}

// NewRedisProber builds a prober for the Redis instance at url.
func NewRedisProber(url, prefix string, timeout time.Duration) (*RedisProber, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	opts, err := redisClientOptions(url, timeout)
	if err != nil {
		return nil, err
	}
	opts.MaxRetries = -1
	opts.PoolSize = 1
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisProber{options: opts, keys: newRedisKeys(prefix)}, nil
}

func (p *RedisProber) Probe(ctx context.Context) error {
	client := redis.NewClient(p.options)
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return classifyRedisError("probe ping", err)
	}

	token := uuid.NewString()
	key := p.keys.probe(token)
	if err := client.Set(ctx, key, token, probeKeyTTL).Err(); err != nil {
		return classifyRedisError("probe write", err)
	}
	got, err := client.Get(ctx, key).Result()
	if err != nil {
		return classifyRedisError("probe read", err)
	}
	if got != token {
		return transientError("probe read", fmt.Errorf("probe key returned %q", got))
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return classifyRedisError("probe cleanup", err)
	}
	return nil
}

// HealthProbe bounds a Prober with a timeout and records the result.
type HealthProbe struct {
	prober  Prober
	timeout time.Duration
	metrics *Metrics
}

func newHealthProbe(prober Prober, timeout time.Duration, metrics *Metrics) *HealthProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HealthProbe{prober: prober, timeout: timeout, metrics: metrics}
}

// Check returns nil when the persistent backend answered and confirmed a write
// within the timeout. Without a prober it always fails.
func (h *HealthProbe) Check(ctx context.Context) error {
	if h == nil || h.prober == nil {
		return jobsError(ErrConfiguration, "persistent backend is not configured")
	}

	probeCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationQueueProbe,
		tracing.WithJobBackend(string(BackendPersistent)))
	defer span.End()

	err := resilience.WithTimeout(probeCtx, h.timeout, h.prober.Probe)
	if err != nil {
		err = transientError("probe", err)
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	h.metrics.recordProbe(err == nil)
	return err
}
