// Package cli builds the mailqueue command line: serve, enqueue, status,
// config and version.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nimburion/mailqueue/pkg/config"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string
}

type rootFlags struct {
	configPath     string
	secretFilePath string
}

// NewRootCommand creates the mailqueue CLI.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "mailqueue"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}

	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&flags.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	persistent.StringVar(&flags.secretFilePath, "secret-file", "", "path to secrets file (sets "+opts.EnvPrefix+"_SECRETS_FILE)")
	persistent.String("log-level", "", "log level (debug, info, warn, error)")
	persistent.String("log-format", "", "log format (json, text)")
	persistent.String("redis-url", "", "redis URL of the persistent backend")
	persistent.String("redis-prefix", "", "redis key prefix")

	serveCmd := newServeCommand(opts, flags)
	rootCmd.AddCommand(
		serveCmd,
		newEnqueueCommand(opts, flags),
		newStatusCommand(opts, flags),
		newConfigCommand(opts, flags),
		newVersionCommand(opts),
	)
	rootCmd.RunE = serveCmd.RunE
	return rootCmd
}

// Execute runs the command and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the secrets file flag and loads the configuration with
// flags > ENV > secrets file > config file > defaults precedence.
func loadConfig(opts Options, flags *rootFlags, flagSet *pflag.FlagSet) (*config.Config, *config.Config, error) {
	if err := applySecretFileFlag(opts.EnvPrefix, flags.secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(flags.configPath, opts.EnvPrefix).
		WithFlags(flagSet).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, secrets, nil
}

// loadConfigAndLogger loads the configuration and creates the zap logger it
// describes, writing to out.
func loadConfigAndLogger(opts Options, flags *rootFlags, flagSet *pflag.FlagSet, out io.Writer) (*config.Config, *logger.ZapLogger, error) {
	cfg, _, err := loadConfig(opts, flags, flagSet)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{
		Level:   logger.LogLevel(cfg.Log.Level),
		Format:  logger.LogFormat(cfg.Log.Format),
		Output:  out,
		Service: cfg.Service.Name,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	if log.Enabled(logger.DebugLevel) {
		log.Debug("effective configuration", "config", cfg.String())
	}
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(strings.ToUpper(strings.TrimSpace(envPrefix))+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}
