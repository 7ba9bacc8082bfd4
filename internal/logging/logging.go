// Package logging builds the zap loggers shared by every Heimdall binary.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/large-farva/heimdall/internal/config"
)

// ParseLevel maps a config level string onto a zap level. Unknown values
// fall back to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a logger configured from cfg together with the atomic level
// backing it, so a config reload can adjust verbosity in place.
func New(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	var zc zap.Config
	if cfg.Encoding == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return nil, level, fmt.Errorf("build logger: %w", err)
	}
	return logger, level, nil
}
