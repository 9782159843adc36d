// Package factory builds the job queue from configuration.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/mailqueue/pkg/config"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Queue bundles the coordinator with the backends it owns.
type Queue struct {
	Coordinator *jobs.Coordinator
	Local       *jobs.LocalBackend
	// Persistent is nil when the queue runs local-only.
	Persistent *jobs.RedisBackend
	Metrics    *jobs.Metrics
}

// Close stops the coordinator and releases both backends.
func (q *Queue) Close() error {
	if q == nil || q.Coordinator == nil {
		return nil
	}
	return q.Coordinator.Close()
}

// NewQueue creates the local backend, the Redis backend and prober when
// redis.url is set, and the coordinator over them. Without redis.url the queue
// runs local-only, unless redis.required is set, which is a configuration
// error. Metrics are registered on registerer when it is not nil.
func NewQueue(cfg *config.Config, log logger.Logger, registerer prometheus.Registerer) (*Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", jobs.ErrConfiguration)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger is required", jobs.ErrInvalidArgument)
	}

	queue := &Queue{}
	if registerer != nil {
		metrics, err := jobs.NewMetrics(registerer)
		if err != nil {
			return nil, fmt.Errorf("register queue metrics: %w", err)
		}
		queue.Metrics = metrics
	}

	queueCfg := QueueConfig(cfg.Queue)
	local, err := jobs.NewLocalBackend(queueCfg, log, jobs.WithLocalMetrics(queue.Metrics))
	if err != nil {
		return nil, err
	}
	queue.Local = local

	var (
		persistent jobs.Backend
		prober     jobs.Prober
	)
	redisURL := strings.TrimSpace(cfg.Redis.URL)
	switch {
	case redisURL != "":
		redisBackend, err := jobs.NewRedisBackend(jobs.RedisBackendConfig{
			URL:              redisURL,
			Prefix:           strings.TrimSpace(cfg.Redis.Prefix),
			OperationTimeout: cfg.Redis.OperationTimeout,
			Queue:            queueCfg,
		}, log, jobs.WithRedisMetrics(queue.Metrics))
		if err != nil {
			return nil, errors.Join(err, local.Close())
		}
		redisProber, err := jobs.NewRedisProber(redisURL, cfg.Redis.Prefix, cfg.Probe.Timeout)
		if err != nil {
			return nil, errors.Join(err, redisBackend.Close(), local.Close())
		}
		queue.Persistent = redisBackend
		persistent, prober = redisBackend, redisProber
	case cfg.Redis.Required:
		return nil, errors.Join(
			fmt.Errorf("%w: redis.url is required when redis.required is set", jobs.ErrConfiguration),
			local.Close(),
		)
	default:
		log.Warn("redis.url is not set, the queue runs on the local backend only and jobs do not survive a restart")
	}

	coordinator, err := jobs.NewCoordinator(persistent, local, prober, log, CoordinatorConfig(cfg), jobs.WithCoordinatorMetrics(queue.Metrics))
	if err != nil {
		closeErr := local.Close()
		if queue.Persistent != nil {
			closeErr = errors.Join(closeErr, queue.Persistent.Close())
		}
		return nil, errors.Join(err, closeErr)
	}
	queue.Coordinator = coordinator
	return queue, nil
}

// QueueConfig converts the queue section to the backend settings.
func QueueConfig(cfg config.QueueConfig) jobs.QueueConfig {
	return jobs.QueueConfig{
		Concurrency:       cfg.Concurrency,
		RetryBase:         cfg.RetryBase,
		RetryCeiling:      cfg.RetryCeiling,
		SignalTimeout:     cfg.SignalTimeout,
		CompletedCap:      cfg.CompletedCap,
		FailedCap:         cfg.FailedCap,
		PromotionInterval: cfg.PromotionInterval,
		PromotionBatch:    cfg.PromotionBatch,
		PollInterval:      cfg.PollInterval,
	}
}

// CoordinatorConfig converts the probe and recovery sections.
func CoordinatorConfig(cfg *config.Config) jobs.CoordinatorConfig {
	return jobs.CoordinatorConfig{
		ProbeInterval:          cfg.Probe.Interval,
		ProbeTimeout:           cfg.Probe.Timeout,
		RecoveryMaxAttempts:    cfg.Recovery.MaxAttempts,
		RecoveryActiveJobDelay: cfg.Recovery.ActiveJobDelay,
	}
}
