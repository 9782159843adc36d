package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity written.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogFormat selects the entry encoding.
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	// TextFormat writes zap console entries.
	TextFormat LogFormat = "text"
)

// Config holds configuration for the logger.
type Config struct {
	Level  LogLevel
	Format LogFormat
	// Output defaults to stdout.
	Output io.Writer
	// Service, when set, is attached to every entry as "service".
	Service string
}

// DefaultConfig returns info level JSON logging to stdout.
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Format: JSONFormat,
	}
}

// ZapLogger is a Logger backed by uber-go/zap. Children created with With or
// Named share the parent's level.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "timestamp",
	LevelKey:       "level",
	NameKey:        "component",
	CallerKey:      "caller",
	FunctionKey:    zapcore.OmitKey,
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// NewZapLogger builds a logger from cfg. Unknown levels fall back to info and
// unknown formats to JSON.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())

	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if cfg.Format == TextFormat {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	base := zap.New(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.DPanicLevel),
	)
	if cfg.Service != "" {
		base = base.With(zap.String("service", cfg.Service))
	}

	return &ZapLogger{base: base, sugar: base.Sugar(), level: level}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	base := zap.NewNop()
	return &ZapLogger{base: base, sugar: base.Sugar(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

func (l *ZapLogger) With(args ...any) Logger {
	return l.derive(l.sugar.With(args...))
}

func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if jobID := JobIDFromContext(ctx); jobID != "" {
		return l.With("job_id", jobID)
	}
	return l
}

// Named returns a child logger whose entries carry component=name.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return l.derive(l.sugar.Named(name))
}

func (l *ZapLogger) derive(sugar *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{base: sugar.Desugar(), sugar: sugar, level: l.level}
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Enabled reports whether entries at level are written.
func (l *ZapLogger) Enabled(level LogLevel) bool {
	return l.level.Enabled(level.zapLevel())
}

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// ParseLogLevel accepts debug, info, warn (or warning) and error, case-insensitively.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", level)
	}
}

// ParseLogFormat accepts json, text or console.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
