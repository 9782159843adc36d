package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/tracing"
	"github.com/nimburion/mailqueue/pkg/resilience"
	"golang.org/x/time/rate"
)

// dispatcher runs one processing attempt and waits on the job's rendezvous.
type dispatcher struct {
	kind    BackendKind
	log     logger.Logger
	metrics *Metrics
	table   *rendezvousTable
	timeout time.Duration
}

func newDispatcher(kind BackendKind, log logger.Logger, metrics *Metrics, timeout time.Duration) *dispatcher {
	return &dispatcher{
		kind:    kind,
		log:     log,
		metrics: metrics,
		table:   newRendezvousTable(),
		timeout: timeout,
	}
}

// attempt publishes job to the processor and blocks until an outcome is signalled,
// the signal timeout elapses or ctx is cancelled. A nil result means completed.
func (d *dispatcher) attempt(ctx context.Context, processor Processor, job *Job) error {
	rv := d.table.open(job.ID)
	defer d.table.close(job.ID, rv)

	traceCtx, span := tracing.StartJobSpan(
		ctx,
		tracing.SpanOperationJobProcess,
		tracing.WithJobBackend(string(d.kind)),
		tracing.WithJobID(job.ID),
		tracing.WithJobName(job.Name),
		tracing.WithJobAttempt(job.Attempts+1, job.MaxAttempts),
		tracing.WithJobPayloadSize(len(job.Payload)),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(traceCtx)
	defer cancel()

	d.metrics.incInFlight(d.kind)
	defer d.metrics.decInFlight(d.kind)

	delivered := cloneJob(job)
	go func() {
		outcome := executeProcessor(runCtx, processor, delivered, d.timeout)
		if ctx.Err() != nil {
			outcome = ErrInterrupted
		}
		rv.resolve(outcome)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case <-rv.done:
	case <-timer.C:
		rv.resolve(jobsError(ErrSignalTimeout, fmt.Sprintf("no outcome within %s", d.timeout)))
	case <-ctx.Done():
		rv.resolve(ErrInterrupted)
	}

	outcome := rv.result()
	switch {
	case outcome == nil:
		tracing.RecordSuccess(span)
	case errors.Is(outcome, ErrInterrupted):
		span.AddEvent("interrupted")
	default:
		tracing.RecordError(span, outcome)
	}
	return outcome
}

func (d *dispatcher) notifyCompleted(jobID string) error {
	if !d.table.resolve(jobID, nil) {
		return jobsError(ErrNotFound, "no pending outcome for job "+jobID)
	}
	return nil
}

func (d *dispatcher) notifyFailed(jobID string, reason error) error {
	if reason == nil {
		reason = errors.New("failure reported without reason")
	}
	if !d.table.resolve(jobID, processingError(reason)) {
		return jobsError(ErrNotFound, "no pending outcome for job "+jobID)
	}
	return nil
}

func (d *dispatcher) interrupt(jobID string) {
	d.table.resolve(jobID, ErrInterrupted)
}

func (d *dispatcher) interruptAll() int {
	return d.table.rejectAll(ErrInterrupted)
}

func executeProcessor(ctx context.Context, processor Processor, job *Job, timeout time.Duration) error {
	err := resilience.WithTimeout(ctx, timeout, func(runCtx context.Context) error {
		return processor(runCtx, job)
	})
	if err != nil {
		return processingError(err)
	}
	return nil
}

func processingError(err error) error {
	if errors.Is(err, ErrProcessing) || errors.Is(err, ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProcessing, err)
}

// loopErrorLimiter throttles repeated warnings from background loops.
type loopErrorLimiter struct {
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newLoopErrorLimiter(every time.Duration) *loopErrorLimiter {
	return &loopErrorLimiter{limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// allow reports whether to log now and how many messages were dropped since the last one.
func (l *loopErrorLimiter) allow() (bool, int64) {
	if l.limiter.Allow() {
		return true, l.suppressed.Swap(0)
	}
	l.suppressed.Add(1)
	return false, 0
}
