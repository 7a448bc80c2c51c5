package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.com/timkado/api/wa-group-etl/internal/runctx"
)

// Log is the global logger
var Log = zap.NewNop()

// Options configures the global logger.
type Options struct {
	// Level is a zap level name; unknown names fall back to info.
	Level string
	// Encoding is "json" (default) or "console".
	Encoding string
	// OutputPaths default to stdout.
	OutputPaths []string
	// Fields are attached to every entry.
	Fields map[string]interface{}
}

// Initialize sets up the global JSON logger at level. Output goes to stdout
// unless outputPaths are given.
func Initialize(level string, outputPaths ...string) error {
	return InitializeWith(Options{Level: level, OutputPaths: outputPaths})
}

// InitializeWith builds the global logger from opts.
func InitializeWith(opts Options) error {
	if len(opts.OutputPaths) == 0 {
		opts.OutputPaths = []string{"stdout"}
	}
	if opts.Encoding == "" {
		opts.Encoding = "json"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	config := zap.Config{
		Level:         zap.NewAtomicLevelAt(zapLevel),
		Encoding:      opts.Encoding,
		EncoderConfig: encoderConfig(opts.Encoding),
		OutputPaths:   opts.OutputPaths,
		// zap's own failures always go to stderr
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    opts.Fields,
	}

	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Log = logger
	return nil
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		// Same layout as stored watermarks
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
		},
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
	}
	return cfg
}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context logger, or the global one, with the run ID
// and pipeline domain attached when the context carries them.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	baseLogger := Log
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		baseLogger = logger
	}
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}

	if runID, err := runctx.RunIDFromContext(ctx); err == nil {
		baseLogger = baseLogger.With(zap.String("run_id", runID))
	}
	if domain, err := runctx.DomainFromContext(ctx); err == nil {
		baseLogger = baseLogger.With(zap.String("domain", domain))
	}
	return baseLogger
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

type contextKey int

const (
	loggerKey contextKey = iota
)
