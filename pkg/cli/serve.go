package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimburion/mailqueue/pkg/config"
	"github.com/nimburion/mailqueue/pkg/email"
	"github.com/nimburion/mailqueue/pkg/health"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/jobs/factory"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/metrics"
	"github.com/nimburion/mailqueue/pkg/observability/tracing"
	"github.com/nimburion/mailqueue/pkg/server"
	"github.com/nimburion/mailqueue/pkg/version"
	"github.com/spf13/cobra"
)

func newServeCommand(opts Options, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue, the email processor and the management server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger(opts, flags, cmd.Flags(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(runCtx, cfg, log)
		},
	}
	cmd.Flags().Int("management-port", 0, "management server port")
	cmd.Flags().String("email-provider", "", "email provider (log, smtp, ses, sendgrid)")
	cmd.Flags().Int("concurrency", 0, "maximum jobs processed at once")
	return cmd
}

// runServe runs until ctx is cancelled, then stops the management server and
// the coordinator. Jobs still held by the local backend are lost at exit.
func runServe(ctx context.Context, cfg *config.Config, log logger.Logger) (err error) {
	info := version.Current(cfg.Service.Name)
	log = log.With("environment", cfg.Service.Environment)
	log.Info("starting mailqueue", "version", info.Version, "commit", info.ShortCommit())

	tracerProvider, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Management.ShutdownTimeout)
		defer cancel()
		if shutdownErr := tracerProvider.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn("tracer provider shutdown failed", "error", shutdownErr)
		}
	}()

	metricsRegistry := metrics.NewRegistry()
	queue, err := factory.NewQueue(cfg, log, metricsRegistry.Registerer())
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			log.Error("failed to close queue", "error", closeErr)
		}
	}()

	provider, err := email.NewProvider(emailConfig(cfg.Email), log)
	if err != nil {
		return fmt.Errorf("create email provider: %w", err)
	}
	defer func() {
		if closeErr := provider.Close(); closeErr != nil {
			log.Error("failed to close email provider", "error", closeErr)
		}
	}()

	if err := queue.Coordinator.RegisterProcessor(email.NewProcessor(provider, log)); err != nil {
		return fmt.Errorf("register email processor: %w", err)
	}
	if err := queue.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Management.ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, queue.Coordinator.Stop(stopCtx))
	}()

	if !cfg.Management.Enabled {
		log.Info("management server disabled")
		<-ctx.Done()
		return nil
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(jobs.NewCoordinatorHealthChecker("", queue.Coordinator))
	if queue.Persistent != nil {
		healthRegistry.Register(jobs.NewBackendHealthChecker("redis", queue.Persistent, cfg.Redis.OperationTimeout))
	}
	management, err := server.NewManagementServer(server.Config{
		Port:            cfg.Management.Port,
		ReadTimeout:     cfg.Management.ReadTimeout,
		WriteTimeout:    cfg.Management.WriteTimeout,
		ShutdownTimeout: cfg.Management.ShutdownTimeout,
	}, log, queue.Coordinator, healthRegistry, metricsRegistry, info)
	if err != nil {
		return fmt.Errorf("create management server: %w", err)
	}
	return management.Start(ctx)
}

func emailConfig(cfg config.EmailConfig) email.Config {
	return email.Config{
		Provider: cfg.Provider,
		From:     cfg.From,
		SMTP: email.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			EnableTLS:          cfg.SMTP.EnableTLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			OperationTimeout:   cfg.SMTP.OperationTimeout,
		},
		SES: email.SESConfig{
			Region:           cfg.SES.Region,
			Endpoint:         cfg.SES.Endpoint,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			SessionToken:     cfg.SES.SessionToken,
			OperationTimeout: cfg.SES.OperationTimeout,
		},
		SendGrid: email.SendGridConfig{
			APIKey:           cfg.SendGrid.APIKey,
			BaseURL:          cfg.SendGrid.BaseURL,
			OperationTimeout: cfg.SendGrid.OperationTimeout,
		},
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout,
	}
}
