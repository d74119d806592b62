package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger so components can share one configured sink
// and derive named children per flow, session or upstream endpoint.
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// Output is a list of sinks (stdout, stderr or file paths).
	Output []string `yaml:"output"`
	// Development switches to the human friendly encoder with callers
	// and stack traces on warnings.
	Development bool `yaml:"development"`
}

// DefaultConfig returns production defaults: info level JSON on stdout.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: []string{"stdout"},
	}
}

// New builds a Logger from config.
func New(config Config) (*Logger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	format := config.Format
	if format == "" {
		format = "json"
	}
	output := config.Output
	if len(output) == 0 {
		output = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.Development,
		DisableStacktrace: !config.Development,
		Encoding:          format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       output,
		ErrorOutputPaths:  []string{"stderr"},
	}

	zl, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return &Logger{zl}, nil
}

// FromEnv applies BANKFLOW_LOG_LEVEL, BANKFLOW_LOG_FORMAT and
// BANKFLOW_LOG_DEV on top of base and builds the logger.
func FromEnv(base Config) (*Logger, error) {
	if v := os.Getenv("BANKFLOW_LOG_LEVEL"); v != "" {
		base.Level = v
	}
	if v := os.Getenv("BANKFLOW_LOG_FORMAT"); v != "" {
		base.Format = v
	}
	if os.Getenv("BANKFLOW_LOG_DEV") == "true" {
		base.Development = true
		if os.Getenv("BANKFLOW_LOG_FORMAT") == "" {
			base.Format = "console"
		}
	}
	return New(base)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop()}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

var global = NewNop()

// SetGlobal replaces the process wide logger. Components capture the
// global logger when they are constructed, so call this before wiring.
func SetGlobal(logger *Logger) {
	if logger == nil {
		logger = NewNop()
	}
	global = logger
}

// L returns the process wide logger.
func L() *Logger {
	return global
}
