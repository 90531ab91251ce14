// Package logging builds the zap loggers used by the relay and the CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at level ("debug", "info", "warn", "error").
// Development loggers write colored console output, the others JSON.
func New(level string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// Install builds a logger with New and makes it the global zap logger. The
// returned func restores the previous globals.
func Install(level string, development bool) (*zap.Logger, func(), error) {
	log, err := New(level, development)
	if err != nil {
		return nil, nil, err
	}
	undo := zap.ReplaceGlobals(log)
	return log, func() {
		_ = log.Sync()
		undo()
	}, nil
}
