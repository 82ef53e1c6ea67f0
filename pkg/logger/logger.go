package logger

import (
	"context"

	"dmrelay/pkg/trace"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, the console stream and an optional log file.
type Config struct {
	Level string
	File  string
	// Console is "stdout" (default) or "stderr".
	Console string
}

// NewLogger builds a production zap logger writing JSON to the console stream
// and, when cfg.File is set, to that file as well.
func NewLogger(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	console := cfg.Console
	if console == "" {
		console = "stdout"
	}
	zcfg.OutputPaths = []string{console}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}

	return zcfg.Build()
}

// WithTrace adds the trace_id stored in ctx, if any.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
