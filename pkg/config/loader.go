package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper.
// Precedence: flags > ENV > secrets file > config file > defaults
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"redis-url":       "redis.url",
	"redis-prefix":    "redis.prefix",
	"management-port": "management.port",
	"email-provider":  "email.provider",
	"concurrency":     "queue.concurrency",
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to MAILQUEUE)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags binds the known flags of flags. Only flags set on the command
// line override other sources.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configured file path, or empty string if none.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads and validates the configuration without a secrets file.
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		loaded, err := l.mergeSecrets(v)
		if err != nil {
			return nil, nil, err
		}
		secrets = loaded
	}

	v.SetEnvPrefix(l.envPrefixOrDefault())
	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("queue.concurrency", l.prefixedEnv("QUEUE_CONCURRENCY"))
	v.BindEnv("queue.max_attempts", l.prefixedEnv("QUEUE_MAX_ATTEMPTS"))
	v.BindEnv("queue.retry_base", l.prefixedEnv("QUEUE_RETRY_BASE"))
	v.BindEnv("queue.retry_ceiling", l.prefixedEnv("QUEUE_RETRY_CEILING"))
	v.BindEnv("queue.signal_timeout", l.prefixedEnv("QUEUE_SIGNAL_TIMEOUT"))
	v.BindEnv("queue.completed_cap", l.prefixedEnv("QUEUE_COMPLETED_CAP"))
	v.BindEnv("queue.failed_cap", l.prefixedEnv("QUEUE_FAILED_CAP"))
	v.BindEnv("queue.promotion_interval", l.prefixedEnv("QUEUE_PROMOTION_INTERVAL"))
	v.BindEnv("queue.promotion_batch", l.prefixedEnv("QUEUE_PROMOTION_BATCH"))
	v.BindEnv("queue.poll_interval", l.prefixedEnv("QUEUE_POLL_INTERVAL"))

	v.BindEnv("redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("redis.prefix", l.prefixedEnv("REDIS_PREFIX"))
	v.BindEnv("redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("redis.required", l.prefixedEnv("REDIS_REQUIRED"))

	v.BindEnv("probe.interval", l.prefixedEnv("PROBE_INTERVAL"))
	v.BindEnv("probe.timeout", l.prefixedEnv("PROBE_TIMEOUT"))

	v.BindEnv("recovery.max_attempts", l.prefixedEnv("RECOVERY_MAX_ATTEMPTS"))
	v.BindEnv("recovery.active_job_delay", l.prefixedEnv("RECOVERY_ACTIVE_JOB_DELAY"))

	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))
	v.BindEnv("management.shutdown_timeout", l.prefixedEnv("MGMT_SHUTDOWN_TIMEOUT"))

	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.insecure", l.prefixedEnv("TRACING_INSECURE"))
	v.BindEnv("tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))

	v.BindEnv("email.provider", l.prefixedEnv("EMAIL_PROVIDER"))
	v.BindEnv("email.from", l.prefixedEnv("EMAIL_FROM"))
	v.BindEnv("email.smtp.host", l.prefixedEnv("EMAIL_SMTP_HOST"))
	v.BindEnv("email.smtp.port", l.prefixedEnv("EMAIL_SMTP_PORT"))
	v.BindEnv("email.smtp.username", l.prefixedEnv("EMAIL_SMTP_USERNAME"))
	v.BindEnv("email.smtp.password", l.prefixedEnv("EMAIL_SMTP_PASSWORD"))
	v.BindEnv("email.smtp.enable_tls", l.prefixedEnv("EMAIL_SMTP_ENABLE_TLS"))
	v.BindEnv("email.smtp.insecure_skip_verify", l.prefixedEnv("EMAIL_SMTP_INSECURE_SKIP_VERIFY"))
	v.BindEnv("email.smtp.operation_timeout", l.prefixedEnv("EMAIL_SMTP_OPERATION_TIMEOUT"))
	v.BindEnv("email.ses.region", l.prefixedEnv("EMAIL_SES_REGION"))
	v.BindEnv("email.ses.endpoint", l.prefixedEnv("EMAIL_SES_ENDPOINT"))
	v.BindEnv("email.ses.access_key_id", l.prefixedEnv("EMAIL_SES_ACCESS_KEY_ID"))
	v.BindEnv("email.ses.secret_access_key", l.prefixedEnv("EMAIL_SES_SECRET_ACCESS_KEY"))
	v.BindEnv("email.ses.session_token", l.prefixedEnv("EMAIL_SES_SESSION_TOKEN"))
	v.BindEnv("email.ses.operation_timeout", l.prefixedEnv("EMAIL_SES_OPERATION_TIMEOUT"))
	v.BindEnv("email.sendgrid.api_key", l.prefixedEnv("EMAIL_SENDGRID_API_KEY"))
	v.BindEnv("email.sendgrid.base_url", l.prefixedEnv("EMAIL_SENDGRID_BASE_URL"))
	v.BindEnv("email.sendgrid.operation_timeout", l.prefixedEnv("EMAIL_SENDGRID_OPERATION_TIMEOUT"))
	v.BindEnv("email.breaker.max_failures", l.prefixedEnv("EMAIL_BREAKER_MAX_FAILURES"))
	v.BindEnv("email.breaker.open_timeout", l.prefixedEnv("EMAIL_BREAKER_OPEN_TIMEOUT"))
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) envPrefixOrDefault() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.envPrefixOrDefault(), suffix)
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("queue.concurrency", cfg.Queue.Concurrency)
	v.SetDefault("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("queue.retry_base", cfg.Queue.RetryBase)
	v.SetDefault("queue.retry_ceiling", cfg.Queue.RetryCeiling)
	v.SetDefault("queue.signal_timeout", cfg.Queue.SignalTimeout)
	v.SetDefault("queue.completed_cap", cfg.Queue.CompletedCap)
	v.SetDefault("queue.failed_cap", cfg.Queue.FailedCap)
	v.SetDefault("queue.promotion_interval", cfg.Queue.PromotionInterval)
	v.SetDefault("queue.promotion_batch", cfg.Queue.PromotionBatch)
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.prefix", cfg.Redis.Prefix)
	v.SetDefault("redis.operation_timeout", cfg.Redis.OperationTimeout)
	v.SetDefault("redis.required", cfg.Redis.Required)

	v.SetDefault("probe.interval", cfg.Probe.Interval)
	v.SetDefault("probe.timeout", cfg.Probe.Timeout)

	v.SetDefault("recovery.max_attempts", cfg.Recovery.MaxAttempts)
	v.SetDefault("recovery.active_job_delay", cfg.Recovery.ActiveJobDelay)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)
	v.SetDefault("management.shutdown_timeout", cfg.Management.ShutdownTimeout)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)

	v.SetDefault("email.provider", cfg.Email.Provider)
	v.SetDefault("email.from", cfg.Email.From)
	v.SetDefault("email.smtp.host", cfg.Email.SMTP.Host)
	v.SetDefault("email.smtp.port", cfg.Email.SMTP.Port)
	v.SetDefault("email.smtp.username", cfg.Email.SMTP.Username)
	v.SetDefault("email.smtp.password", cfg.Email.SMTP.Password)
	v.SetDefault("email.smtp.enable_tls", cfg.Email.SMTP.EnableTLS)
	v.SetDefault("email.smtp.insecure_skip_verify", cfg.Email.SMTP.InsecureSkipVerify)
	v.SetDefault("email.smtp.operation_timeout", cfg.Email.SMTP.OperationTimeout)
	v.SetDefault("email.ses.region", cfg.Email.SES.Region)
	v.SetDefault("email.ses.endpoint", cfg.Email.SES.Endpoint)
	v.SetDefault("email.ses.access_key_id", cfg.Email.SES.AccessKeyID)
	v.SetDefault("email.ses.secret_access_key", cfg.Email.SES.SecretAccessKey)
	v.SetDefault("email.ses.session_token", cfg.Email.SES.SessionToken)
	v.SetDefault("email.ses.operation_timeout", cfg.Email.SES.OperationTimeout)
	v.SetDefault("email.sendgrid.api_key", cfg.Email.SendGrid.APIKey)
	v.SetDefault("email.sendgrid.base_url", cfg.Email.SendGrid.BaseURL)
	v.SetDefault("email.sendgrid.operation_timeout", cfg.Email.SendGrid.OperationTimeout)
	v.SetDefault("email.breaker.max_failures", cfg.Email.Breaker.MaxFailures)
	v.SetDefault("email.breaker.open_timeout", cfg.Email.Breaker.OpenTimeout)
}

// Validate normalizes cfg and reports every invalid setting at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Email.Provider = strings.ToLower(strings.TrimSpace(cfg.Email.Provider))
	cfg.Redis.URL = strings.TrimSpace(cfg.Redis.URL)

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("invalid log.level: %s (must be one of: %v)", cfg.Log.Level, validLevels))
	}
	validFormats := []string{LogFormatJSON, LogFormatText}
	if !contains(validFormats, cfg.Log.Format) {
		errs = append(errs, fmt.Errorf("invalid log.format: %s (must be one of: %v)", cfg.Log.Format, validFormats))
	}

	errs = append(errs, validateQueue(cfg.Queue)...)

	if cfg.Redis.URL != "" && !strings.HasPrefix(cfg.Redis.URL, "redis://") && !strings.HasPrefix(cfg.Redis.URL, "rediss://") {
		errs = append(errs, fmt.Errorf("redis.url must use the redis:// or rediss:// scheme"))
	}
	if cfg.Redis.OperationTimeout <= 0 {
		errs = append(errs, errors.New("redis.operation_timeout must be greater than zero"))
	}

	if cfg.Probe.Interval <= 0 {
		errs = append(errs, errors.New("probe.interval must be greater than zero"))
	}
	if cfg.Probe.Timeout <= 0 {
		errs = append(errs, errors.New("probe.timeout must be greater than zero"))
	}
	if cfg.Recovery.MaxAttempts < 1 {
		errs = append(errs, errors.New("recovery.max_attempts must be at least 1"))
	}
	if cfg.Recovery.ActiveJobDelay < 0 {
		errs = append(errs, errors.New("recovery.active_job_delay must not be negative"))
	}

	if cfg.Management.Enabled && (cfg.Management.Port < 1 || cfg.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("management.port must be between 1 and 65535, got %d", cfg.Management.Port))
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", cfg.Tracing.SampleRate))
	}

	errs = append(errs, validateEmail(cfg.Email)...)

	return errors.Join(errs...)
}

func validateQueue(q QueueConfig) []error {
	var errs []error
	if q.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if q.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if q.RetryBase <= 0 {
		errs = append(errs, errors.New("queue.retry_base must be greater than zero"))
	}
	if q.RetryCeiling < q.RetryBase {
		errs = append(errs, errors.New("queue.retry_ceiling must not be lower than queue.retry_base"))
	}
	if q.SignalTimeout <= 0 {
		errs = append(errs, errors.New("queue.signal_timeout must be greater than zero"))
	}
	if q.CompletedCap < 1 || q.FailedCap < 1 {
		errs = append(errs, errors.New("queue.completed_cap and queue.failed_cap must be at least 1"))
	}
	if q.PromotionInterval <= 0 || q.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.promotion_interval and queue.poll_interval must be greater than zero"))
	}
	if q.PromotionBatch < 1 {
		errs = append(errs, errors.New("queue.promotion_batch must be at least 1"))
	}
	return errs
}

func validateEmail(cfg EmailConfig) []error {
	var errs []error
	switch cfg.Provider {
	case EmailProviderLog:
	case EmailProviderSMTP:
		if strings.TrimSpace(cfg.SMTP.Host) == "" {
			errs = append(errs, errors.New("email.smtp.host is required for the smtp provider"))
		}
	case EmailProviderSES:
		if strings.TrimSpace(cfg.SES.Region) == "" {
			errs = append(errs, errors.New("email.ses.region is required for the ses provider"))
		}
	case EmailProviderSendGrid:
		if strings.TrimSpace(cfg.SendGrid.APIKey) == "" {
			errs = append(errs, errors.New("email.sendgrid.api_key is required for the sendgrid provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid email.provider: %s (must be one of: %v)", cfg.Provider,
			[]string{EmailProviderLog, EmailProviderSMTP, EmailProviderSES, EmailProviderSendGrid}))
	}
	if cfg.Provider != EmailProviderLog && strings.TrimSpace(cfg.From) == "" {
		errs = append(errs, errors.New("email.from is required for network providers"))
	}
	return errs
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
