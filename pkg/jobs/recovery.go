package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runRecovery migrates the pending jobs of the local backend to the persistent
// backend and makes the persistent backend active. Jobs rejected by the
// persistent backend for non-transient reasons stay local. A transient failure
// aborts the attempt and removes every job created on the persistent backend
// by it.
func (c *Coordinator) runRecovery(ctx context.Context) (err error) {
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationQueueRecovery)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
	}()

	defer hold(c.local)()

	snapshot, err := c.local.Snapshot(ctx, pendingStates...)
	if err != nil {
		return jobsError(ErrRecovery, fmt.Sprintf("snapshot local jobs: %v", err))
	}
	span.SetAttributes(attribute.Int("job.count", len(snapshot)))
	if len(snapshot) == 0 {
		c.activatePersistent()
		c.log.Info("persistent backend available, switched without migration")
		return nil
	}

	now := time.Now().UTC()
	migrated := make([]string, 0, len(snapshot))
	migratedStates := make([]State, 0, len(snapshot))
	for _, job := range snapshot {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.discardMigrated(ctx, migrated)
			return jobsError(ErrRecovery, fmt.Sprintf("cancelled after %d jobs: %v", len(migrated), ctxErr))
		}

		recovered := recoveredJob(job, now, c.cfg.RecoveryActiveJobDelay)
		enqueueErr := c.persistent.Enqueue(ctx, recovered)
		if enqueueErr == nil {
			migrated = append(migrated, job.ID)
			migratedStates = append(migratedStates, job.State)
			continue
		}
		if IsTransient(enqueueErr) {
			c.discardMigrated(ctx, migrated)
			return jobsError(ErrRecovery, fmt.Sprintf("migrate job %s: %v", job.ID, enqueueErr))
		}
		c.log.Warn("job could not be migrated, it stays on the local backend",
			"job_id", job.ID,
			"job_name", job.Name,
			"state", string(job.State),
			"error", enqueueErr,
		)
	}

	if _, err := c.local.Remove(ctx, migrated...); err != nil {
		c.discardMigrated(ctx, migrated)
		return jobsError(ErrRecovery, fmt.Sprintf("remove migrated jobs from local backend: %v", err))
	}
	c.activatePersistent()

	for _, state := range migratedStates {
		c.metrics.recordMigrated(state)
	}
	span.AddEvent("migrated", trace.WithAttributes(attribute.Int("job.migrated", len(migrated))))
	c.log.Info("recovery completed, persistent backend active",
		"migrated", len(migrated),
		"kept_local", len(snapshot)-len(migrated),
	)
	return nil
}

// hold pauses backend and returns a func that restores its previous state.
func hold(backend Backend) func() {
	if backend.Paused() {
		return func() {}
	}
	backend.Pause()
	return backend.Resume
}

// discardMigrated removes jobs created on the persistent backend by an aborted
// recovery. It runs detached from ctx so a cancelled recovery still cleans up.
func (c *Coordinator) discardMigrated(ctx context.Context, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProbeTimeout)
	defer cancel()
	removed, err := c.persistent.Remove(cleanupCtx, jobIDs...)
	if err != nil {
		c.log.Warn("discard partially migrated jobs failed",
			"created", len(jobIDs),
			"removed", removed,
			"error", err,
		)
		return
	}
	c.log.Debug("discarded partially migrated jobs", "removed", removed)
}

// recoveredJob prepares a local job for the persistent backend. Waiting jobs
// run immediately with their attempts intact. Active jobs were interrupted
// mid-attempt, so they restart their count with the remaining budget after a
// short delay. Delayed jobs keep their due time.
func recoveredJob(job *Job, now time.Time, activeDelay time.Duration) *Job {
	next := cloneJob(job)
	next.Provenance = ProvenanceRecovered
	next.RecoveredAt = now
	next.StartedAt = time.Time{}

	switch job.State {
	case StateActive:
		next.MaxAttempts = max(job.MaxAttempts-job.Attempts, 1)
		next.Attempts = 0
		next.RunAt = now.Add(activeDelay)
	case StateDelayed:
		if job.RunAt.Before(now) {
			next.RunAt = now
		}
	default:
		next.RunAt = now
	}
	next.State = ""
	return next
}
