package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// LocalBackend is the in-process fallback backend. It mirrors RedisBackend's
// state machine but keeps everything in memory, so pending jobs are lost when
// the process exits.
type LocalBackend struct {
	cfg      QueueConfig
	log      logger.Logger
	metrics  *Metrics
	dispatch *dispatcher

	mu        sync.Mutex
	jobs      map[string]*Job
	waiting   []string
	timers    map[string]*time.Timer
	active    map[string]struct{}
	completed *jobRing
	failed    *jobRing
	paused    bool
	closed    bool
	running   bool
	cancel    context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

// LocalOption customizes a LocalBackend.
type LocalOption func(*LocalBackend)

// WithLocalMetrics records queue metrics under the local backend label.
func WithLocalMetrics(metrics *Metrics) LocalOption {
	return func(b *LocalBackend) {
		b.metrics = metrics
	}
}

// NewLocalBackend creates an in-memory backend.
func NewLocalBackend(cfg QueueConfig, log logger.Logger, opts ...LocalOption) (*LocalBackend, error) {
	if log == nil {
		return nil, jobsError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()

	backend := &LocalBackend{
		cfg:       cfg,
		log:       log.With("backend", string(BackendLocal)),
		jobs:      map[string]*Job{},
		timers:    map[string]*time.Timer{},
		active:    map[string]struct{}{},
		completed: newJobRing(cfg.CompletedCap),
		failed:    newJobRing(cfg.FailedCap),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	backend.dispatch = newDispatcher(BackendLocal, backend.log, backend.metrics, cfg.SignalTimeout)
	return backend, nil
}

func (b *LocalBackend) Kind() BackendKind {
	return BackendLocal
}

func (b *LocalBackend) Enqueue(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return jobsError(ErrClosed, "local backend is closed")
	}
	if _, exists := b.jobs[job.ID]; exists {
		return jobsError(ErrConflict, "job "+job.ID+" is already pending")
	}

	stored := cloneJob(job)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.RunAt.IsZero() {
		stored.RunAt = stored.CreatedAt
	}
	stored.StartedAt = time.Time{}
	stored.FinishedAt = time.Time{}
	b.jobs[stored.ID] = stored

	if time.Until(stored.RunAt) > 0 {
		b.scheduleLocked(stored)
	} else {
		stored.State = StateWaiting
		b.waiting = append(b.waiting, stored.ID)
		b.signal()
	}
	b.metrics.recordEnqueued(BackendLocal, stored)
	return nil
}

// scheduleLocked parks job in delayed with a one-shot promotion timer.
func (b *LocalBackend) scheduleLocked(job *Job) {
	job.State = StateDelayed
	if existing, ok := b.timers[job.ID]; ok {
		existing.Stop()
	}
	jobID := job.ID
	b.timers[jobID] = time.AfterFunc(time.Until(job.RunAt), func() {
		b.promote(jobID)
	})
}

func (b *LocalBackend) promote(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok || job.State != StateDelayed {
		return
	}
	delete(b.timers, jobID)
	job.State = StateWaiting
	b.waiting = append(b.waiting, jobID)
	b.signal()
}

func (b *LocalBackend) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *LocalBackend) Start(ctx context.Context, processor Processor) error {
	if processor == nil {
		return jobsError(ErrNotInitialized, "processor is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return jobsError(ErrClosed, "local backend is closed")
	}
	if b.running {
		b.mu.Unlock()
		return jobsError(ErrConflict, "local backend already started")
	}
	b.requeueActiveLocked()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatchLoop(loopCtx, processor)
	}()
	b.signal()
	return nil
}

// requeueActiveLocked moves jobs interrupted by a previous Stop back to the
// head of waiting, oldest first.
func (b *LocalBackend) requeueActiveLocked() {
	if len(b.active) == 0 {
		return
	}
	interrupted := make([]*Job, 0, len(b.active))
	for jobID := range b.active {
		interrupted = append(interrupted, b.jobs[jobID])
	}
	sort.Slice(interrupted, func(i, j int) bool {
		return interrupted[i].StartedAt.Before(interrupted[j].StartedAt)
	})

	requeued := make([]string, 0, len(interrupted)+len(b.waiting))
	for _, job := range interrupted {
		delete(b.active, job.ID)
		job.State = StateWaiting
		job.StartedAt = time.Time{}
		requeued = append(requeued, job.ID)
	}
	b.waiting = append(requeued, b.waiting...)
	b.log.Info("requeued interrupted local jobs", "count", len(interrupted))
}

func (b *LocalBackend) dispatchLoop(ctx context.Context, processor Processor) {
	for {
		if ctx.Err() != nil {
			return
		}
		job := b.claimNext()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}

		b.wg.Add(1)
		go func(job *Job) {
			defer b.wg.Done()
			outcome := b.dispatch.attempt(ctx, processor, job)
			b.settle(job, outcome)
		}(job)
	}
}

// claimNext moves the head of waiting to active if the ceiling allows it.
func (b *LocalBackend) claimNext() *Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused || len(b.waiting) == 0 || len(b.active) >= b.cfg.Concurrency {
		return nil
	}
	jobID := b.waiting[0]
	b.waiting[0] = ""
	b.waiting = b.waiting[1:]

	job := b.jobs[jobID]
	job.State = StateActive
	job.StartedAt = time.Now().UTC()
	b.active[jobID] = struct{}{}
	return cloneJob(job)
}

// settle applies the outcome of an attempt. Jobs removed while active are ignored.
func (b *LocalBackend) settle(attempted *Job, outcome error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.signal()

	if _, ok := b.active[attempted.ID]; !ok {
		return
	}
	job := b.jobs[attempted.ID]

	if errors.Is(outcome, ErrInterrupted) {
		job.LastError = "interrupted"
		b.log.Warn("job interrupted", "job_id", job.ID, "job_name", job.Name)
		b.metrics.recordProcessed(BackendLocal, job.Name, "interrupted")
		return
	}

	delete(b.active, job.ID)
	now := time.Now().UTC()

	if outcome == nil {
		delete(b.jobs, job.ID)
		job.State = StateCompleted
		job.FinishedAt = now
		b.completed.push(job)
		b.metrics.recordProcessed(BackendLocal, job.Name, "completed")
		b.log.Debug("job completed", "job_id", job.ID, "job_name", job.Name)
		return
	}

	next, state := failureTransition(job, outcome, b.cfg, now)
	if state == StateDelayed {
		b.jobs[next.ID] = next
		b.scheduleLocked(next)
		b.metrics.recordProcessed(BackendLocal, next.Name, "retry")
		b.metrics.recordRetry(BackendLocal, next.Name)
		b.log.Warn("job failed, retry scheduled",
			"job_id", next.ID,
			"job_name", next.Name,
			"attempts", next.Attempts,
			"max_attempts", next.MaxAttempts,
			"run_at", next.RunAt,
			"error", outcome,
		)
		return
	}

	delete(b.jobs, next.ID)
	b.failed.push(next)
	b.metrics.recordProcessed(BackendLocal, next.Name, "failed")
	b.log.Error("job failed permanently",
		"job_id", next.ID,
		"job_name", next.Name,
		"attempts", next.Attempts,
		"error", outcome,
	)
}

// Stop halts the dispatch loop and rejects pending rendezvous. Interrupted
// jobs stay active until the next Start.
func (b *LocalBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.dispatch.interruptAll()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBackend) NotifyCompleted(_ context.Context, jobID string) error {
	return b.dispatch.notifyCompleted(jobID)
}

func (b *LocalBackend) NotifyFailed(_ context.Context, jobID string, reason error) error {
	return b.dispatch.notifyFailed(jobID, reason)
}

func (b *LocalBackend) Get(_ context.Context, jobID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if job, ok := b.jobs[jobID]; ok {
		return cloneJob(job), nil
	}
	if job := b.completed.find(jobID); job != nil {
		return cloneJob(job), nil
	}
	if job := b.failed.find(jobID); job != nil {
		return cloneJob(job), nil
	}
	return nil, jobsError(ErrNotFound, "job "+jobID+" not found")
}

func (b *LocalBackend) List(_ context.Context, state State) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listLocked(state)
}

func (b *LocalBackend) listLocked(state State) ([]*Job, error) {
	switch state {
	case StateWaiting:
		out := make([]*Job, 0, len(b.waiting))
		for _, jobID := range b.waiting {
			out = append(out, cloneJob(b.jobs[jobID]))
		}
		return out, nil
	case StateActive:
		out := make([]*Job, 0, len(b.active))
		for jobID := range b.active {
			out = append(out, cloneJob(b.jobs[jobID]))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
		return out, nil
	case StateDelayed:
		out := make([]*Job, 0, len(b.timers))
		for jobID := range b.timers {
			out = append(out, cloneJob(b.jobs[jobID]))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
		return out, nil
	case StateCompleted:
		return cloneJobs(b.completed.newestFirst()), nil
	case StateFailed:
		return cloneJobs(b.failed.newestFirst()), nil
	default:
		return nil, jobsError(ErrInvalidArgument, "unknown job state "+string(state))
	}
}

func (b *LocalBackend) Counts(_ context.Context) (StateCounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StateCounts{
		Waiting:   len(b.waiting),
		Active:    len(b.active),
		Delayed:   len(b.timers),
		Completed: b.completed.len(),
		Failed:    b.failed.len(),
	}, nil
}

func (b *LocalBackend) Snapshot(_ context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = pendingStates
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Job
	for _, state := range states {
		list, err := b.listLocked(state)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

func (b *LocalBackend) Remove(_ context.Context, jobIDs ...string) (int, error) {
	b.mu.Lock()
	removed := 0
	interrupted := make([]string, 0)
	drop := map[string]struct{}{}
	for _, jobID := range jobIDs {
		job, ok := b.jobs[jobID]
		if !ok {
			continue
		}
		switch job.State {
		case StateWaiting:
			drop[jobID] = struct{}{}
		case StateDelayed:
			if timer, ok := b.timers[jobID]; ok {
				timer.Stop()
				delete(b.timers, jobID)
			}
		case StateActive:
			delete(b.active, jobID)
			interrupted = append(interrupted, jobID)
		}
		delete(b.jobs, jobID)
		removed++
	}
	if len(drop) > 0 {
		kept := b.waiting[:0]
		for _, jobID := range b.waiting {
			if _, ok := drop[jobID]; !ok {
				kept = append(kept, jobID)
			}
		}
		b.waiting = kept
	}
	b.mu.Unlock()

	for _, jobID := range interrupted {
		b.dispatch.interrupt(jobID)
	}
	if len(interrupted) > 0 {
		b.signal()
	}
	return removed, nil
}

func (b *LocalBackend) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

func (b *LocalBackend) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *LocalBackend) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.signal()
}

func (b *LocalBackend) HealthCheck(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return jobsError(ErrClosed, "local backend is closed")
	}
	return nil
}

// Close stops the backend and drops every pending job.
func (b *LocalBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SignalTimeout)
	defer cancel()
	stopErr := b.Stop(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for jobID, timer := range b.timers {
		timer.Stop()
		delete(b.timers, jobID)
	}
	return stopErr
}
