package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/mailqueue/pkg/config"
	"github.com/nimburion/mailqueue/pkg/email"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/jobs/factory"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/spf13/cobra"
)

type enqueueFlags struct {
	from        string
	to          []string
	cc          []string
	bcc         []string
	subject     string
	text        string
	html        string
	delay       time.Duration
	maxAttempts int
}

func newEnqueueCommand(opts Options, flags *rootFlags) *cobra.Command {
	input := &enqueueFlags{}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue an email job on the persistent backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := input.message()
			payload, err := message.Encode()
			if err != nil {
				return err
			}
			cfg, log, err := loadConfigAndLogger(opts, flags, cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			maxAttempts := input.maxAttempts
			if maxAttempts == 0 {
				maxAttempts = cfg.Queue.MaxAttempts
			}
			job, err := jobs.NewJob(email.JobName, payload, jobs.EnqueueOptions{
				Delay:       input.delay,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}

			backend, err := newRedisBackend(cfg, log.Named(cmd.Name()))
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			if err := backend.Enqueue(cmd.Context(), job); err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.from, "from", "", "sender address (defaults to email.from)")
	cmd.Flags().StringSliceVar(&input.to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&input.cc, "cc", nil, "cc address (repeatable)")
	cmd.Flags().StringSliceVar(&input.bcc, "bcc", nil, "bcc address (repeatable)")
	cmd.Flags().StringVar(&input.subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&input.text, "text", "", "plain text body")
	cmd.Flags().StringVar(&input.html, "html", "", "HTML body")
	cmd.Flags().DurationVar(&input.delay, "delay", 0, "delay before the first attempt")
	cmd.Flags().IntVar(&input.maxAttempts, "max-attempts", 0, "maximum attempts (defaults to queue.max_attempts)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (f *enqueueFlags) message() email.Message {
	return email.Message{
		From:     strings.TrimSpace(f.from),
		To:       f.to,
		Cc:       f.cc,
		Bcc:      f.bcc,
		Subject:  f.subject,
		TextBody: f.text,
		HTMLBody: f.html,
	}
}

func newStatusCommand(opts Options, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts on the persistent backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger(opts, flags, cmd.Flags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			backend, err := newRedisBackend(cfg, log.Named(cmd.Name()))
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			counts, err := backend.Counts(cmd.Context())
			if err != nil {
				return fmt.Errorf("read job counts: %w", err)
			}
			return writeYAML(cmd.OutOrStdout(), statusReport{
				Redis:  cfg.Redacted(nil).Redis.URL,
				Prefix: cfg.Redis.Prefix,
				Counts: counts,
			})
		},
	}
}

type statusReport struct {
	Redis  string           `yaml:"redis"`
	Prefix string           `yaml:"prefix"`
	Counts jobs.StateCounts `yaml:"counts"`
}

// newRedisBackend opens the persistent backend for one-shot commands. The
// local fallback does not apply outside serve, so redis.url is required.
func newRedisBackend(cfg *config.Config, log logger.Logger) (*jobs.RedisBackend, error) {
	url := strings.TrimSpace(cfg.Redis.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: redis.url is required (set --redis-url or %s_REDIS_URL)", jobs.ErrConfiguration, config.DefaultEnvPrefix)
	}
	backend, err := jobs.NewRedisBackend(jobs.RedisBackendConfig{
		URL:              url,
		Prefix:           cfg.Redis.Prefix,
		OperationTimeout: cfg.Redis.OperationTimeout,
		Queue:            factory.QueueConfig(cfg.Queue),
	}, log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.OperationTimeout)
	defer cancel()
	if err := backend.HealthCheck(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("redis unavailable: %w", err), backend.Close())
	}
	return backend, nil
}
