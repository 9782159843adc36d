// Package config loads the mailqueue configuration from defaults, an optional
// file, an optional secrets file, command line flags and MAILQUEUE_*
// environment variables.
package config

import "time"

// Log format constants
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Email provider constants
const (
	EmailProviderLog      = "log"
	EmailProviderSMTP     = "smtp"
	EmailProviderSES      = "ses"
	EmailProviderSendGrid = "sendgrid"
)

// DefaultEnvPrefix is the environment variable prefix used by the CLI.
const DefaultEnvPrefix = "MAILQUEUE"

// Config is the root configuration structure.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service" yaml:"service"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Probe      ProbeConfig      `mapstructure:"probe" yaml:"probe"`
	Recovery   RecoveryConfig   `mapstructure:"recovery" yaml:"recovery"`
	Management ManagementConfig `mapstructure:"management" yaml:"management"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Email      EmailConfig      `mapstructure:"email" yaml:"email"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// QueueConfig holds the behavior shared by both backends.
type QueueConfig struct {
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBase         time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryCeiling      time.Duration `mapstructure:"retry_ceiling" yaml:"retry_ceiling"`
	SignalTimeout     time.Duration `mapstructure:"signal_timeout" yaml:"signal_timeout"`
	CompletedCap      int           `mapstructure:"completed_cap" yaml:"completed_cap"`
	FailedCap         int           `mapstructure:"failed_cap" yaml:"failed_cap"`
	PromotionInterval time.Duration `mapstructure:"promotion_interval" yaml:"promotion_interval"`
	PromotionBatch    int           `mapstructure:"promotion_batch" yaml:"promotion_batch"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RedisConfig configures the persistent backend. An empty URL runs the queue
// on the local backend only, unless Required is set.
type RedisConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Prefix           string        `mapstructure:"prefix" yaml:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	Required         bool          `mapstructure:"required" yaml:"required"`
}

// ProbeConfig controls how often the persistent backend is probed while the
// queue runs on the local backend.
type ProbeConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RecoveryConfig controls local to persistent migrations.
type RecoveryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ActiveJobDelay time.Duration `mapstructure:"active_job_delay" yaml:"active_job_delay"`
}

// ManagementConfig configures the management HTTP server.
type ManagementConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// EmailConfig configures the provider used by the email job processor.
type EmailConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // log, smtp, ses, sendgrid
	From     string `mapstructure:"from" yaml:"from"`

	SMTP     EmailSMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	SES      EmailSESConfig      `mapstructure:"ses" yaml:"ses"`
	SendGrid EmailSendGridConfig `mapstructure:"sendgrid" yaml:"sendgrid"`
	Breaker  BreakerConfig       `mapstructure:"breaker" yaml:"breaker"`
}

// EmailSMTPConfig configures the SMTP provider.
type EmailSMTPConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
	EnableTLS          bool          `mapstructure:"enable_tls" yaml:"enable_tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	OperationTimeout   time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// EmailSESConfig configures the AWS SES provider.
type EmailSESConfig struct {
	Region           string        `mapstructure:"region" yaml:"region"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// EmailSendGridConfig configures the SendGrid provider.
type EmailSendGridConfig struct {
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// BreakerConfig configures the circuit breaker around network providers.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "mailqueue",
			Environment: "production",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
		},
		Queue: QueueConfig{
			Concurrency:       3,
			MaxAttempts:       3,
			RetryBase:         time.Second,
			RetryCeiling:      30 * time.Second,
			SignalTimeout:     30 * time.Second,
			CompletedCap:      100,
			FailedCap:         50,
			PromotionInterval: 5 * time.Second,
			PromotionBatch:    10,
			PollInterval:      time.Second,
		},
		Redis: RedisConfig{
			Prefix:           "mailqueue",
			OperationTimeout: 5 * time.Second,
		},
		Probe: ProbeConfig{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:    10,
			ActiveJobDelay: 2 * time.Second,
		},
		Management: ManagementConfig{
			Enabled:         true,
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		Email: EmailConfig{
			Provider: EmailProviderLog,
			SMTP: EmailSMTPConfig{
				Port:             587,
				OperationTimeout: 10 * time.Second,
			},
			SES: EmailSESConfig{
				OperationTimeout: 10 * time.Second,
			},
			SendGrid: EmailSendGridConfig{
				BaseURL:          "https://api.sendgrid.com",
				OperationTimeout: 10 * time.Second,
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
	}
}
