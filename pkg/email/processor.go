package email

import (
	"context"
	"fmt"

	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// NewProcessor returns a job processor that decodes the payload of email jobs
// and hands the message to provider. Jobs with another name fail. Delivery may
// be repeated for the same job, so providers must tolerate duplicates.
func NewProcessor(provider Provider, log logger.Logger) jobs.Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return func(ctx context.Context, job *jobs.Job) error {
		if job.Name != JobName {
			return fmt.Errorf("%w: unsupported job name %q", ErrInvalidMessage, job.Name)
		}
		message, err := DecodeMessage(job.Payload)
		if err != nil {
			return err
		}
		jobLog := log.With("job_id", job.ID, "attempt", job.Attempts+1)
		if err := provider.Send(ctx, message); err != nil {
			jobLog.Warn("email delivery failed", "error", err)
			return err
		}
		jobLog.Info("email delivered", "recipients", len(message.Recipients()))
		return nil
	}
}

