package jobs

import (
	"context"
	"time"
)

// BackendKind identifies a backend implementation.
type BackendKind string

const (
	BackendPersistent BackendKind = "persistent"
	BackendLocal      BackendKind = "local"
)

// Processor performs the domain action of a job. A nil return completes the job,
// an error schedules a retry or a terminal failure. It may be invoked more than
// once for the same job.
type Processor func(ctx context.Context, job *Job) error

// Backend is a queue storage and execution engine. Both implementations share
// the same state machine, retention caps, concurrency ceiling and backoff.
type Backend interface {
	Kind() BackendKind

	// Enqueue stores the job as waiting, or delayed when RunAt is in the future.
	Enqueue(ctx context.Context, job *Job) error

	// Start launches the dispatch loops. Stop halts them and rejects pending rendezvous.
	Start(ctx context.Context, processor Processor) error
	Stop(ctx context.Context) error

	// NotifyCompleted and NotifyFailed resolve the rendezvous of an active job.
	// They return ErrNotFound when no rendezvous is pending here for jobID.
	NotifyCompleted(ctx context.Context, jobID string) error
	NotifyFailed(ctx context.Context, jobID string, reason error) error

	Get(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context, state State) ([]*Job, error)
	Counts(ctx context.Context) (StateCounts, error)

	// Snapshot returns copies of all jobs in the given states, State field set.
	Snapshot(ctx context.Context, states ...State) ([]*Job, error)
	// Remove drops jobs from waiting, active and delayed. Active rendezvous are
	// rejected with ErrInterrupted.
	Remove(ctx context.Context, jobIDs ...string) (int, error)

	// Pause stops moving waiting jobs to active until Resume. A claim already
	// in progress finishes before Pause returns.
	Pause()
	Resume()
	Paused() bool

	HealthCheck(ctx context.Context) error
	Close() error
}

const (
	DefaultConcurrency       = 3
	DefaultRetryBase         = time.Second
	DefaultRetryCeiling      = 30 * time.Second
	DefaultSignalTimeout     = 30 * time.Second
	DefaultCompletedCap      = 100
	DefaultFailedCap         = 50
	DefaultPromotionInterval = 5 * time.Second
	DefaultPromotionBatch    = 10
	DefaultPollInterval      = time.Second
)

// QueueConfig holds the behavior shared by both backends.
type QueueConfig struct {
	Concurrency       int
	RetryBase         time.Duration
	RetryCeiling      time.Duration
	SignalTimeout     time.Duration
	CompletedCap      int
	FailedCap         int
	PromotionInterval time.Duration
	PromotionBatch    int
	PollInterval      time.Duration
}

func (c *QueueConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}
	if c.CompletedCap <= 0 {
		c.CompletedCap = DefaultCompletedCap
	}
	if c.FailedCap <= 0 {
		c.FailedCap = DefaultFailedCap
	}
	if c.PromotionInterval <= 0 {
		c.PromotionInterval = DefaultPromotionInterval
	}
	if c.PromotionBatch <= 0 {
		c.PromotionBatch = DefaultPromotionBatch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// failureTransition computes where a failed job goes next. The returned job is
// a copy with Attempts incremented and LastError set.
func failureTransition(job *Job, reason error, cfg QueueConfig, now time.Time) (*Job, State) {
	next := cloneJob(job)
	next.Attempts++
	if reason != nil {
		next.LastError = reason.Error()
	}
	if next.Attempts < next.MaxAttempts {
		next.RunAt = now.Add(RetryDelay(next.Attempts, cfg.RetryBase, cfg.RetryCeiling))
		next.State = StateDelayed
		return next, StateDelayed
	}
	next.FinishedAt = now
	next.State = StateFailed
	return next, StateFailed
}
