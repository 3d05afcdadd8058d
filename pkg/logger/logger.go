package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describes the process a logger belongs to.
type Options struct {
	Level       string
	Service     string
	Environment string
	Version     string
}

// New constructs a zap.Logger configured for structured JSON logging.
// Every entry carries the service, env and version fields.
func New(opts Options) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if opts.Level != "" {
		if err := zapLevel.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, err
		}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: opts.Environment == "development",
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": opts.Service,
			"env":     opts.Environment,
			"version": opts.Version,
		},
	}

	return cfg.Build()
}
