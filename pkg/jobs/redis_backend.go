package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix           = "mailqueue"
	defaultRedisOperationTimeout = 5 * time.Second
	redisSettleBackoffCeiling    = 2 * time.Second
	redisLoopWarnEvery           = 30 * time.Second
)

// RedisBackendConfig configures the Redis-backed persistent backend.
type RedisBackendConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	Queue            QueueConfig
}

func (c *RedisBackendConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	c.Queue.normalize()
}

// RedisBackend is the durable backend. Collections are Redis lists, sets and
// sorted sets of ids; every transition runs as a single Lua script.
type RedisBackend struct {
	client   *redis.Client
	log      logger.Logger
	config   RedisBackendConfig
	keys     redisKeys
	metrics  *Metrics
	dispatch *dispatcher
	limiter  *loopErrorLimiter

	onTransient atomic.Pointer[func(error)]
	paused      atomic.Bool

	// claimMu serializes claims with the orphan sweep. inflight holds the ids
	// this process claimed and has not finished settling.
	claimMu  sync.Mutex
	inflight map[string]struct{}

	mu      sync.Mutex
	closed  bool
	running bool
	cancel  context.CancelFunc
	pubsub  *redis.PubSub

	wake chan struct{}
	wg   sync.WaitGroup
}

// RedisOption customizes a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisMetrics records queue metrics under the persistent backend label.
func WithRedisMetrics(metrics *Metrics) RedisOption {
	return func(b *RedisBackend) {
		b.metrics = metrics
	}
}

// NewRedisBackend creates the persistent backend. It does not contact Redis;
// the connection is established lazily so the backend can be built while
// Redis is down.
func NewRedisBackend(cfg RedisBackendConfig, log logger.Logger, opts ...RedisOption) (*RedisBackend, error) {
	if log == nil {
		return nil, jobsError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, jobsError(ErrConfiguration, "redis url is required")
	}
	cfg.normalize()

	clientOpts, err := redisClientOptions(cfg.URL, cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}

	backend := &RedisBackend{
		client:  redis.NewClient(clientOpts),
		log:     log.With("backend", string(BackendPersistent)),
		config:  cfg,
		keys:    newRedisKeys(cfg.Prefix),
		limiter:  newLoopErrorLimiter(redisLoopWarnEvery),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	backend.dispatch = newDispatcher(BackendPersistent, backend.log, backend.metrics, cfg.Queue.SignalTimeout)
	return backend, nil
}

func redisClientOptions(url string, timeout time.Duration) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, jobsError(ErrConfiguration, fmt.Sprintf("parse redis url failed: %v", err))
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	return opts, nil
}

func (b *RedisBackend) Kind() BackendKind {
	return BackendPersistent
}

// setTransientHandler registers fn to be told about connectivity failures seen
// by the background loops.
func (b *RedisBackend) setTransientHandler(fn func(error)) {
	if fn == nil {
		b.onTransient.Store(nil)
		return
	}
	b.onTransient.Store(&fn)
}

func (b *RedisBackend) reportTransient(err error) {
	if fn := b.onTransient.Load(); fn != nil && IsTransient(err) {
		(*fn)(err)
	}
}

func (b *RedisBackend) Enqueue(ctx context.Context, job *Job) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}

	stored := cloneJob(job)
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.RunAt.IsZero() {
		stored.RunAt = stored.CreatedAt
	}
	stored.StartedAt = time.Time{}
	stored.FinishedAt = time.Time{}
	stored.State = StateWaiting
	if stored.RunAt.After(now) {
		stored.State = StateDelayed
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	result, err := redisEnqueueScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.job(stored.ID), b.keys.waiting(), b.keys.delayed(), b.keys.signal()},
		string(data),
		stored.ID,
		stored.RunAt.UnixMilli(),
		now.UnixMilli(),
	).Int()
	if err != nil {
		return classifyRedisError("enqueue job", err)
	}
	if result == 0 {
		return jobsError(ErrConflict, "job "+stored.ID+" already exists")
	}
	b.metrics.recordEnqueued(BackendPersistent, stored)
	return nil
}

// Start requeues jobs left active by a previous process and launches the
// signal, promotion and dispatch loops.
func (b *RedisBackend) Start(ctx context.Context, processor Processor) error {
	if processor == nil {
		return jobsError(ErrNotInitialized, "processor is required")
	}
	if err := b.ensureOpen(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return jobsError(ErrConflict, "redis backend already started")
	}

	opCtx, cancel := b.operationContext(ctx)
	requeued, err := redisRequeueActiveScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.active(), b.keys.waiting()},
		b.keys.jobPrefix(),
	).Int()
	cancel()
	if err != nil {
		return classifyRedisError("requeue active jobs", err)
	}
	if requeued > 0 {
		b.log.Info("requeued jobs left active by a previous run", "count", requeued)
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	b.cancel = loopCancel
	b.running = true
	b.pubsub = b.client.Subscribe(loopCtx, b.keys.signal())

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		b.signalLoop(loopCtx, b.pubsub)
	}()
	go func() {
		defer b.wg.Done()
		b.promotionLoop(loopCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.dispatchLoop(loopCtx, processor)
	}()
	b.signal()
	return nil
}

func (b *RedisBackend) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *RedisBackend) signalLoop(ctx context.Context, pubsub *redis.PubSub) {
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			b.signal()
		}
	}
}

func (b *RedisBackend) promotionLoop(ctx context.Context) {
	ticker := time.NewTicker(b.config.Queue.PromotionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.promoteDue(ctx); err != nil {
				b.loopError("promote delayed jobs failed", err)
			}
			if _, err := b.requeueOrphans(ctx); err != nil && ctx.Err() == nil {
				b.loopError("requeue orphaned active jobs failed", err)
			}
		}
	}
}

// promoteDue moves at most one batch of due delayed jobs to waiting.
func (b *RedisBackend) promoteDue(ctx context.Context) (int, error) {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	moved, err := redisPromoteScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.delayed(), b.keys.waiting(), b.keys.signal()},
		time.Now().UTC().UnixMilli(),
		b.config.Queue.PromotionBatch,
		b.keys.jobPrefix(),
	).Int()
	if err != nil {
		return 0, classifyRedisError("promote delayed jobs", err)
	}
	if moved > 0 {
		b.signal()
	}
	return moved, nil
}

// requeueOrphans moves active ids that no attempt of this process owns back to
// waiting. They are left behind when a claim reply or a settle is lost.
func (b *RedisBackend) requeueOrphans(ctx context.Context) (int, error) {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	ids, err := b.client.SMembers(opCtx, b.keys.active()).Result()
	if err != nil {
		return 0, classifyRedisError("list active jobs", err)
	}
	args := []any{b.keys.jobPrefix()}
	for _, jobID := range ids {
		if _, owned := b.inflight[jobID]; !owned {
			args = append(args, jobID)
		}
	}
	if len(args) == 1 {
		return 0, nil
	}

	moved, err := redisRequeueOrphansScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.active(), b.keys.waiting()},
		args...,
	).Int()
	if err != nil {
		return 0, classifyRedisError("requeue orphaned jobs", err)
	}
	if moved > 0 {
		b.log.Warn("requeued active jobs with no running attempt", "count", moved)
		b.signal()
	}
	return moved, nil
}

func (b *RedisBackend) release(jobID string) {
	b.claimMu.Lock()
	delete(b.inflight, jobID)
	b.claimMu.Unlock()
}

func (b *RedisBackend) dispatchLoop(ctx context.Context, processor Processor) {
	poll := time.NewTimer(b.config.Queue.PollInterval)
	defer poll.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		var job *Job
		if !b.paused.Load() {
			claimed, err := b.claimNext(ctx)
			if err != nil && ctx.Err() == nil {
				b.loopError("claim next job failed", err)
			}
			job = claimed
		}

		if job != nil {
			b.wg.Add(1)
			go func(job *Job) {
				defer b.wg.Done()
				defer b.release(job.ID)
				outcome := b.dispatch.attempt(ctx, processor, job)
				b.settle(ctx, job, outcome)
			}(job)
			continue
		}

		if !poll.Stop() {
			select {
			case <-poll.C:
			default:
			}
		}
		poll.Reset(b.config.Queue.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		case <-poll.C:
		}
	}
}

// claimNext moves the head of waiting to active when the ceiling allows it and
// registers the claimed id as in flight.
func (b *RedisBackend) claimNext(ctx context.Context) (*Job, error) {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()
	if b.paused.Load() {
		return nil, nil
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	reply, err := redisClaimScript.Run(
		opCtx,
		b.client,
		[]string{b.keys.waiting(), b.keys.active()},
		b.config.Queue.Concurrency,
		b.keys.jobPrefix(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyRedisError("claim job", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("claim job: unexpected reply of %d elements", len(reply))
	}

	jobID, raw := reply[0], reply[1]
	if raw == "" {
		b.log.Warn("dropping job without a record", "job_id", jobID)
		b.signal()
		return nil, nil
	}
	job, _, err := decodeJobRecord(jobID, []any{raw, string(StateActive)})
	if err != nil {
		b.log.Warn("dropping unreadable job record", "job_id", jobID, "error", err)
		if _, removeErr := redisRemoveScript.Run(opCtx, b.client,
			[]string{b.keys.waiting(), b.keys.delayed(), b.keys.active(), b.keys.job(jobID)},
			jobID,
		).Result(); removeErr != nil {
			b.log.Debug("remove unreadable job failed", "job_id", jobID, "error", removeErr)
		}
		b.signal()
		return nil, nil
	}
	b.inflight[jobID] = struct{}{}

	job.State = StateActive
	job.StartedAt = time.Now().UTC()
	if err := b.touchActive(opCtx, job); err != nil {
		b.log.Debug("record job start failed", "job_id", job.ID, "error", err)
	}
	return job, nil
}

func (b *RedisBackend) touchActive(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return classifyRedisError("update active job", redisTouchActiveScript.Run(
		ctx,
		b.client,
		[]string{b.keys.active(), b.keys.job(job.ID)},
		job.ID,
		string(data),
	).Err())
}

// settle applies the outcome of an attempt. The scripts are no-ops when the
// job already left the active set (removed, migrated or settled).
func (b *RedisBackend) settle(ctx context.Context, job *Job, outcome error) {
	if errors.Is(outcome, ErrInterrupted) {
		job.LastError = "interrupted"
		touchCtx, cancel := b.operationContext(context.WithoutCancel(ctx))
		defer cancel()
		if err := b.touchActive(touchCtx, job); err != nil {
			b.log.Debug("record interruption failed", "job_id", job.ID, "error", err)
		}
		b.metrics.recordProcessed(BackendPersistent, job.Name, "interrupted")
		return
	}

	now := time.Now().UTC()
	var (
		script *redis.Script
		keys   []string
		args   []any
		status string
		next   = cloneJob(job)
	)
	if outcome == nil {
		next.State = StateCompleted
		next.FinishedAt = now
		status = "completed"
	} else {
		var state State
		next, state = failureTransition(job, outcome, b.config.Queue, now)
		status = string(state)
		if state == StateDelayed {
			status = "retry"
		}
	}

	data, err := json.Marshal(next)
	if err != nil {
		b.log.Error("marshal settled job failed", "job_id", job.ID, "error", err)
		return
	}

	switch next.State {
	case StateCompleted:
		script = redisFinishScript
		keys = []string{b.keys.active(), b.keys.completed(), b.keys.job(next.ID)}
		args = []any{next.ID, string(data), string(StateCompleted), b.config.Queue.CompletedCap, b.keys.jobPrefix()}
	case StateFailed:
		script = redisFinishScript
		keys = []string{b.keys.active(), b.keys.failed(), b.keys.job(next.ID)}
		args = []any{next.ID, string(data), string(StateFailed), b.config.Queue.FailedCap, b.keys.jobPrefix()}
	default:
		script = redisRetryScript
		keys = []string{b.keys.active(), b.keys.delayed(), b.keys.job(next.ID)}
		args = []any{next.ID, string(data), next.RunAt.UnixMilli()}
	}

	applied, err := b.runSettle(ctx, script, keys, args)
	if err != nil {
		b.log.Error("settle job failed, job will be requeued",
			"job_id", next.ID,
			"job_name", next.Name,
			"status", status,
			"error", err,
		)
		return
	}
	if applied == 0 {
		b.log.Debug("job left active before its outcome was applied", "job_id", next.ID, "status", status)
		return
	}

	b.metrics.recordProcessed(BackendPersistent, next.Name, status)
	switch status {
	case "completed":
		b.log.Debug("job completed", "job_id", next.ID, "job_name", next.Name)
	case "retry":
		b.metrics.recordRetry(BackendPersistent, next.Name)
		b.log.Warn("job failed, retry scheduled",
			"job_id", next.ID,
			"job_name", next.Name,
			"attempts", next.Attempts,
			"max_attempts", next.MaxAttempts,
			"run_at", next.RunAt,
			"error", outcome,
		)
	default:
		b.log.Error("job failed permanently",
			"job_id", next.ID,
			"job_name", next.Name,
			"attempts", next.Attempts,
			"error", outcome,
		)
	}
	b.signal()
}

// runSettle retries transient failures with a capped backoff until the script
// applies or ctx ends. The first try runs even when ctx is already done.
func (b *RedisBackend) runSettle(ctx context.Context, script *redis.Script, keys []string, args []any) (int, error) {
	backoff := b.config.Queue.PollInterval
	for {
		opCtx, cancel := b.operationContext(context.WithoutCancel(ctx))
		applied, err := script.Run(opCtx, b.client, keys, args...).Int()
		cancel()
		if err == nil {
			return applied, nil
		}
		err = classifyRedisError("settle job", err)
		if !IsTransient(err) || ctx.Err() != nil {
			return 0, err
		}
		b.loopError("settle job failed, retrying", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, err
		case <-timer.C:
		}
		backoff = min(backoff*2, redisSettleBackoffCeiling)
	}
}

func (b *RedisBackend) loopError(message string, err error) {
	b.reportTransient(err)
	if ok, suppressed := b.limiter.allow(); ok {
		b.log.Warn(message, "error", err, "suppressed", suppressed)
	}
}

// Stop cancels the loops and rejects pending rendezvous. Interrupted jobs stay
// in the active set and are requeued by the next Start.
func (b *RedisBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	pubsub := b.pubsub
	b.cancel = nil
	b.pubsub = nil
	b.mu.Unlock()

	cancel()
	b.dispatch.interruptAll()
	if pubsub != nil {
		_ = pubsub.Close()
	}

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

func (b *RedisBackend) NotifyCompleted(_ context.Context, jobID string) error {
	return b.dispatch.notifyCompleted(jobID)
}

func (b *RedisBackend) NotifyFailed(_ context.Context, jobID string, reason error) error {
	return b.dispatch.notifyFailed(jobID, reason)
}

func (b *RedisBackend) Get(ctx context.Context, jobID string) (*Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	job, _, err := b.loadJob(opCtx, jobID)
	return job, err
}

// loadJob reads a job record; the returned job carries the stored state.
func (b *RedisBackend) loadJob(ctx context.Context, jobID string) (*Job, State, error) {
	values, err := b.client.HMGet(ctx, b.keys.job(jobID), "data", "state").Result()
	if err != nil {
		return nil, "", classifyRedisError("load job", err)
	}
	return decodeJobRecord(jobID, values)
}

func decodeJobRecord(jobID string, values []any) (*Job, State, error) {
	if len(values) < 2 || values[0] == nil {
		return nil, "", jobsError(ErrNotFound, "job "+jobID+" not found")
	}
	raw, ok := values[0].(string)
	if !ok {
		return nil, "", jobsError(ErrValidation, "job "+jobID+" has a malformed record")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, "", jobsError(ErrValidation, fmt.Sprintf("decode job %s failed: %v", jobID, err))
	}
	if state, ok := values[1].(string); ok && state != "" {
		job.State = State(state)
	}
	return &job, job.State, nil
}

func (b *RedisBackend) List(ctx context.Context, state State) ([]*Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	var (
		ids []string
		err error
	)
	switch state {
	case StateWaiting:
		ids, err = b.client.LRange(opCtx, b.keys.waiting(), 0, -1).Result()
	case StateActive:
		ids, err = b.client.SMembers(opCtx, b.keys.active()).Result()
	case StateDelayed:
		ids, err = b.client.ZRange(opCtx, b.keys.delayed(), 0, -1).Result()
	case StateCompleted:
		ids, err = b.client.LRange(opCtx, b.keys.completed(), 0, -1).Result()
	case StateFailed:
		ids, err = b.client.LRange(opCtx, b.keys.failed(), 0, -1).Result()
	default:
		return nil, jobsError(ErrInvalidArgument, "unknown job state "+string(state))
	}
	if err != nil {
		return nil, classifyRedisError("list "+string(state)+" jobs", err)
	}

	jobs, err := b.loadJobs(opCtx, ids, state)
	if err != nil {
		return nil, err
	}
	if state == StateActive {
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	}
	return jobs, nil
}

func (b *RedisBackend) loadJobs(ctx context.Context, ids []string, state State) ([]*Job, error) {
	if len(ids) == 0 {
		return []*Job{}, nil
	}
	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for idx, jobID := range ids {
			cmds[idx] = pipe.HMGet(ctx, b.keys.job(jobID), "data", "state")
		}
		return nil
	})
	if err != nil {
		return nil, classifyRedisError("load jobs", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for idx, cmd := range cmds {
		job, _, decodeErr := decodeJobRecord(ids[idx], cmd.Val())
		if decodeErr != nil {
			b.log.Debug("skipping unreadable job record", "job_id", ids[idx], "error", decodeErr)
			continue
		}
		job.State = state
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *RedisBackend) Counts(ctx context.Context) (StateCounts, error) {
	if err := b.ensureOpen(); err != nil {
		return StateCounts{}, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := b.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(opCtx, b.keys.waiting())
		active = pipe.SCard(opCtx, b.keys.active())
		delayed = pipe.ZCard(opCtx, b.keys.delayed())
		completed = pipe.LLen(opCtx, b.keys.completed())
		failed = pipe.LLen(opCtx, b.keys.failed())
		return nil
	})
	if err != nil {
		return StateCounts{}, classifyRedisError("count jobs", err)
	}
	return StateCounts{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Delayed:   int(delayed.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

func (b *RedisBackend) Snapshot(ctx context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = pendingStates
	}
	var out []*Job
	for _, state := range states {
		list, err := b.List(ctx, state)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

func (b *RedisBackend) Remove(ctx context.Context, jobIDs ...string) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	removed := 0
	for _, jobID := range jobIDs {
		opCtx, cancel := b.operationContext(ctx)
		result, err := redisRemoveScript.Run(
			opCtx,
			b.client,
			[]string{b.keys.waiting(), b.keys.delayed(), b.keys.active(), b.keys.job(jobID)},
			jobID,
		).Int()
		cancel()
		if err != nil {
			return removed, classifyRedisError("remove job", err)
		}
		if result == 2 {
			b.dispatch.interrupt(jobID)
			b.signal()
		}
		if result > 0 {
			removed++
		}
	}
	return removed, nil
}

func (b *RedisBackend) Pause() {
	b.paused.Store(true)
	b.claimMu.Lock()
	b.claimMu.Unlock()
}

func (b *RedisBackend) Paused() bool {
	return b.paused.Load()
}

func (b *RedisBackend) Resume() {
	b.paused.Store(false)
	b.signal()
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return classifyRedisError("ping", b.client.Ping(opCtx).Err())
}

// Close stops the loops and closes the client.
func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.config.Queue.SignalTimeout)
	defer cancel()
	stopErr := b.Stop(ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return stopErr
	}
	b.closed = true
	b.mu.Unlock()
	return errors.Join(stopErr, b.client.Close())
}

func (b *RedisBackend) ensureOpen() error {
	if b == nil || b.client == nil {
		return jobsError(ErrNotInitialized, "redis backend is not initialized")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return jobsError(ErrClosed, "redis backend is closed")
	}
	return nil
}

func (b *RedisBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

// transientRedisReplies are server replies that indicate a temporary condition.
var transientRedisReplies = []string{"LOADING", "READONLY", "MASTERDOWN", "TRYAGAIN", "CLUSTERDOWN", "BUSY"}

// classifyRedisError wraps connectivity failures with ErrTransient. Server
// replies such as WRONGTYPE are returned as plain errors.
func classifyRedisError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return jobsError(ErrNotFound, op)
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		for _, prefix := range transientRedisReplies {
			if strings.HasPrefix(replyErr.Error(), prefix) {
				return transientError(op, err)
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return transientError(op, err)
}
