package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/tracing"
)

const (
	DefaultRecoveryMaxAttempts    = 10
	DefaultRecoveryActiveJobDelay = 2 * time.Second
	coordinatorWarnEvery          = time.Minute
)

// CoordinatorConfig controls probing and recovery.
type CoordinatorConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// RecoveryMaxAttempts bounds consecutive aborted recoveries.
	RecoveryMaxAttempts int
	// RecoveryActiveJobDelay postpones migrated active jobs so an attempt
	// still finishing locally does not overlap the persistent one.
	RecoveryActiveJobDelay time.Duration
}

func (c *CoordinatorConfig) normalize() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.RecoveryMaxAttempts <= 0 {
		c.RecoveryMaxAttempts = DefaultRecoveryMaxAttempts
	}
	if c.RecoveryActiveJobDelay < 0 {
		c.RecoveryActiveJobDelay = 0
	}
}

// BackendHealth describes the persistent backend as seen by the coordinator.
type BackendHealth struct {
	IsAvailable      bool      `json:"is_available"`
	LastCheckedAt    time.Time `json:"last_checked_at"`
	PendingRecovery  bool      `json:"pending_recovery"`
	RecoveryAttempts int       `json:"recovery_attempts"`
}

// Status is the coordinator view returned to callers.
type Status struct {
	Counts   StateCounts   `json:"counts"`
	Backend  BackendKind   `json:"backend"`
	Recovery BackendHealth `json:"recovery"`
}

type backendRef struct {
	backend Backend
}

// transientReporter is implemented by backends whose background loops can
// observe connectivity failures.
type transientReporter interface {
	setTransientHandler(fn func(error))
}

// Coordinator owns backend selection, the probe loop and recovery. Enqueues go
// to the active backend; when the persistent backend fails with a transient
// error the coordinator falls back to the local backend and probes until the
// persistent backend accepts writes again.
type Coordinator struct {
	persistent Backend
	local      Backend
	probe      *HealthProbe
	log        logger.Logger
	metrics    *Metrics
	cfg        CoordinatorConfig
	limiter    *loopErrorLimiter

	persistentRef *backendRef
	localRef      *backendRef
	active        atomic.Pointer[backendRef]

	available        atomic.Bool
	lastCheckedAt    atomic.Int64
	pendingRecovery  atomic.Bool
	recoveryAttempts atomic.Int64

	mu                sync.Mutex
	processor         Processor
	started           bool
	closed            bool
	persistentStarted bool
	loopCtx           context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorMetrics records fallback, probe and recovery metrics.
func WithCoordinatorMetrics(metrics *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// NewCoordinator creates a coordinator over a local backend and an optional
// persistent backend. With persistent nil the coordinator runs local-only.
// The local backend is active until Start confirms the persistent one.
func NewCoordinator(persistent, local Backend, prober Prober, log logger.Logger, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	if local == nil {
		return nil, jobsError(ErrInvalidArgument, "local backend is required")
	}
	if log == nil {
		return nil, jobsError(ErrInvalidArgument, "logger is required")
	}
	if persistent != nil && prober == nil {
		return nil, jobsError(ErrInvalidArgument, "prober is required with a persistent backend")
	}
	cfg.normalize()

	c := &Coordinator{
		persistent: persistent,
		local:      local,
		log:        log.With("component", "jobs-coordinator"),
		cfg:        cfg,
		limiter:    newLoopErrorLimiter(coordinatorWarnEvery),
		localRef:   &backendRef{backend: local},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if persistent != nil {
		c.persistentRef = &backendRef{backend: persistent}
		c.probe = newHealthProbe(prober, cfg.ProbeTimeout, c.metrics)
		if reporter, ok := persistent.(transientReporter); ok {
			reporter.setTransientHandler(c.demote)
		}
	}
	c.active.Store(c.localRef)
	c.metrics.setActiveBackend(BackendLocal)
	return c, nil
}

// RegisterProcessor sets the processor invoked for every job. Only one
// processor can be registered. It must tolerate being called more than once
// for the same job.
func (c *Coordinator) RegisterProcessor(processor Processor) error {
	if processor == nil {
		return jobsError(ErrInvalidArgument, "processor is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processor != nil {
		return jobsError(ErrConflict, "processor already registered")
	}
	c.processor = processor
	return nil
}

// Enqueue stores a new job on the active backend and returns its id. Invalid
// options fail immediately. A transient persistent failure moves the
// coordinator to the local backend, which then receives the job.
func (c *Coordinator) Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) (string, error) {
	job, err := NewJob(name, payload, opts)
	if err != nil {
		return "", err
	}
	if c.isClosed() {
		return "", jobsError(ErrClosed, "coordinator is closed")
	}

	target := c.active.Load().backend

	spanCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobEnqueue,
		tracing.WithJobBackend(string(target.Kind())),
		tracing.WithJobID(job.ID),
		tracing.WithJobName(job.Name),
		tracing.WithJobPayloadSize(len(job.Payload)),
	)
	defer span.End()

	err = target.Enqueue(spanCtx, job)
	if err == nil {
		tracing.RecordSuccess(span)
		return job.ID, nil
	}
	if target.Kind() != BackendPersistent || !IsTransient(err) {
		tracing.RecordError(span, err)
		return "", err
	}

	c.demote(err)
	span.AddEvent("fallback to local backend")
	if localErr := c.local.Enqueue(spanCtx, job); localErr != nil {
		tracing.RecordError(span, localErr)
		return "", localErr
	}
	tracing.RecordSuccess(span)
	return job.ID, nil
}

// demote switches from the persistent to the local backend. It is a no-op
// when the local backend is already active.
func (c *Coordinator) demote(cause error) {
	c.available.Store(false)
	if c.persistentRef == nil || !c.active.CompareAndSwap(c.persistentRef, c.localRef) {
		return
	}
	c.metrics.recordFallback()
	c.metrics.setActiveBackend(BackendLocal)
	c.log.Warn("persistent backend unavailable, falling back to local backend", "error", cause)
}

func (c *Coordinator) activatePersistent() {
	c.active.Store(c.persistentRef)
	c.available.Store(true)
	c.metrics.setActiveBackend(BackendPersistent)
}

// Start launches both backends and the probe loop. The persistent backend
// becomes active as soon as a probe confirms it, after migrating any job the
// local backend holds.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return jobsError(ErrClosed, "coordinator is closed")
	}
	if c.processor == nil {
		c.mu.Unlock()
		return jobsError(ErrNotInitialized, "register a processor before starting")
	}
	if c.started {
		c.mu.Unlock()
		return jobsError(ErrConflict, "coordinator already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	if err := c.local.Start(loopCtx, c.processor); err != nil {
		c.mu.Unlock()
		cancel()
		return err
	}
	c.loopCtx = loopCtx
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	if c.persistent == nil {
		c.log.Warn("persistent backend not configured, running on the local backend only")
		return nil
	}

	// A restart after Stop finds the persistent backend still active.
	if c.ActiveBackend() == BackendPersistent {
		if err := c.startPersistent(); err != nil {
			c.demote(err)
		}
	}
	c.probeCycle(loopCtx)
	c.log.Info("jobs coordinator started", "backend", string(c.ActiveBackend()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.probeLoop(loopCtx)
	}()
	return nil
}

func (c *Coordinator) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeCycle(ctx)
		}
	}
}

// probeCycle probes the persistent backend while the local one is active and
// starts a recovery when the probe succeeds.
func (c *Coordinator) probeCycle(ctx context.Context) {
	if c.persistent == nil || c.ActiveBackend() == BackendPersistent {
		return
	}

	err := c.probe.Check(ctx)
	c.lastCheckedAt.Store(time.Now().UTC().UnixNano())
	if err != nil {
		c.available.Store(false)
		c.log.Debug("persistent backend still unavailable", "error", err)
		return
	}
	c.available.Store(true)
	c.tryRecover(ctx)
}

// tryRecover runs at most one recovery at a time and gives up after
// RecoveryMaxAttempts consecutive aborts. The persistent backend does not
// dispatch until the recovery has switched over or discarded what it migrated.
func (c *Coordinator) tryRecover(ctx context.Context) {
	if attempts := c.recoveryAttempts.Load(); attempts >= int64(c.cfg.RecoveryMaxAttempts) {
		if ok, _ := c.limiter.allow(); ok {
			c.log.Warn("recovery attempts exhausted, staying on local backend", "recovery_attempts", attempts)
		}
		return
	}
	if !c.pendingRecovery.CompareAndSwap(false, true) {
		return
	}
	defer c.pendingRecovery.Store(false)
	defer hold(c.persistent)()

	err := c.startPersistent()
	if err == nil {
		err = c.runRecovery(ctx)
	}
	if err != nil {
		attempts := c.recoveryAttempts.Add(1)
		c.metrics.recordRecovery("aborted")
		c.log.Warn("recovery aborted, staying on local backend",
			"recovery_attempts", attempts,
			"error", err,
		)
		return
	}
	c.recoveryAttempts.Store(0)
	c.metrics.recordRecovery("success")
}

func (c *Coordinator) startPersistent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persistentStarted {
		return nil
	}
	if !c.started {
		return jobsError(ErrNotInitialized, "coordinator is not started")
	}
	if err := c.persistent.Start(c.loopCtx, c.processor); err != nil {
		return err
	}
	c.persistentStarted = true
	return nil
}

// Status reports counts of the active backend together with the recovery state.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	backend := c.active.Load().backend
	counts, err := backend.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Counts:   counts,
		Backend:  backend.Kind(),
		Recovery: c.Health(),
	}, nil
}

// List returns copies of the active backend's jobs in state.
func (c *Coordinator) List(ctx context.Context, state State) ([]*Job, error) {
	return c.active.Load().backend.List(ctx, state)
}

func (c *Coordinator) Waiting(ctx context.Context) ([]*Job, error) {
	return c.List(ctx, StateWaiting)
}

func (c *Coordinator) Active(ctx context.Context) ([]*Job, error) {
	return c.List(ctx, StateActive)
}

func (c *Coordinator) Delayed(ctx context.Context) ([]*Job, error) {
	return c.List(ctx, StateDelayed)
}

func (c *Coordinator) Completed(ctx context.Context) ([]*Job, error) {
	return c.List(ctx, StateCompleted)
}

func (c *Coordinator) Failed(ctx context.Context) ([]*Job, error) {
	return c.List(ctx, StateFailed)
}

// Job looks jobID up on the active backend first, then on the other one.
func (c *Coordinator) Job(ctx context.Context, jobID string) (*Job, error) {
	var lastErr error
	for _, backend := range c.backends() {
		job, err := backend.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, jobsError(ErrNotFound, "job "+jobID+" not found")
}

// NotifyCompleted resolves the pending attempt of jobID as completed. Unknown
// or already resolved jobs are ignored.
func (c *Coordinator) NotifyCompleted(ctx context.Context, jobID string) error {
	return c.notify(func(backend Backend) error {
		return backend.NotifyCompleted(ctx, jobID)
	})
}

// NotifyFailed resolves the pending attempt of jobID as failed. Unknown or
// already resolved jobs are ignored.
func (c *Coordinator) NotifyFailed(ctx context.Context, jobID string, reason error) error {
	return c.notify(func(backend Backend) error {
		return backend.NotifyFailed(ctx, jobID, reason)
	})
}

func (c *Coordinator) notify(fn func(Backend) error) error {
	for _, backend := range c.backends() {
		err := fn(backend)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// backends returns the active backend first.
func (c *Coordinator) backends() []Backend {
	active := c.active.Load().backend
	if c.persistent == nil {
		return []Backend{active}
	}
	if active.Kind() == BackendPersistent {
		return []Backend{active, c.local}
	}
	return []Backend{active, c.persistent}
}

// ActiveBackend returns the kind of backend receiving enqueues.
func (c *Coordinator) ActiveBackend() BackendKind {
	return c.active.Load().backend.Kind()
}

// Health returns a snapshot of the persistent backend state.
func (c *Coordinator) Health() BackendHealth {
	health := BackendHealth{
		IsAvailable:      c.available.Load(),
		PendingRecovery:  c.pendingRecovery.Load(),
		RecoveryAttempts: int(c.recoveryAttempts.Load()),
	}
	if checked := c.lastCheckedAt.Load(); checked > 0 {
		health.LastCheckedAt = time.Unix(0, checked).UTC()
	}
	return health
}

// Stop halts the probe loop and both backends. Pending attempts are rejected
// with ErrInterrupted.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	persistentStarted := c.persistentStarted
	c.persistentStarted = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	var errs []error
	if persistentStarted {
		errs = append(errs, c.persistent.Stop(ctx))
	}
	errs = append(errs, c.local.Stop(ctx))
	c.log.Info("jobs coordinator stopped")
	return errors.Join(errs...)
}

// Close stops the coordinator and closes both backends.
func (c *Coordinator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSignalTimeout)
	defer cancel()
	stopErr := c.Stop(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return stopErr
	}
	c.closed = true
	c.mu.Unlock()

	errs := []error{stopErr, c.local.Close()}
	if c.persistent != nil {
		errs = append(errs, c.persistent.Close())
	}
	return errors.Join(errs...)
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
