// Package tracing provides OpenTelemetry tracing helpers for the queue.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	// SpanOperationJobEnqueue represents handing a job to a backend
	SpanOperationJobEnqueue SpanOperation = "job.enqueue"
	// SpanOperationJobProcess represents one processing attempt
	SpanOperationJobProcess SpanOperation = "job.process"
	// SpanOperationQueueRecovery represents a local to persistent migration
	SpanOperationQueueRecovery SpanOperation = "queue.recovery"
	// SpanOperationQueueProbe represents a persistent backend probe
	SpanOperationQueueProbe SpanOperation = "queue.probe"
)

// StartJobSpan creates a span for a queue operation. Processing spans are
// consumer spans, enqueue spans are producer spans, the rest are internal.
func StartJobSpan(ctx context.Context, operation SpanOperation, opts ...JobSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(InstrumentationName)

	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("job.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("JOB %s", operation)
	if spanOpts.name != "" {
		spanName = fmt.Sprintf("JOB %s %s", operation, spanOpts.name)
	}

	spanKind := trace.SpanKindInternal
	switch operation {
	case SpanOperationJobProcess:
		spanKind = trace.SpanKindConsumer
	case SpanOperationJobEnqueue:
		spanKind = trace.SpanKindProducer
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	name       string
	attributes []attribute.KeyValue
}

// WithJobBackend sets the backend kind ("persistent" or "local").
func WithJobBackend(backend string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("job.backend", backend))
	}
}

// WithJobID sets the job identifier.
func WithJobID(id string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("job.id", id))
	}
}

// WithJobName sets the job name, which also becomes part of the span name.
func WithJobName(name string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.name = name
		opts.attributes = append(opts.attributes, attribute.String("job.name", name))
	}
}

// WithJobAttempt sets the 1-based attempt number and the attempt budget.
func WithJobAttempt(attempt, maxAttempts int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes,
			attribute.Int("job.attempt", attempt),
			attribute.Int("job.max_attempts", maxAttempts),
		)
	}
}

// WithJobPayloadSize sets the payload size in bytes.
func WithJobPayloadSize(size int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("job.payload_size_bytes", size))
	}
}

// WithJobCount sets the number of jobs touched by a batch operation.
func WithJobCount(count int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("job.count", count))
	}
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
