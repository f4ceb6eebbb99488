// Package logging builds the zap loggers shared by the services.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the subset of *zap.SugaredLogger the packages depend on
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// NullLogger discards everything
type NullLogger struct{}

func (NullLogger) Debugf(string, ...interface{}) {}
func (NullLogger) Infof(string, ...interface{})  {}
func (NullLogger) Warnf(string, ...interface{})  {}
func (NullLogger) Errorf(string, ...interface{}) {}

// New creates a sugared zap logger. level is one of debug|info|warn|error (default info),
// json selects the production JSON encoder instead of the console one.
func New(level string, json bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDefault never fails and falls back to a no-op logger.
func NewDefault(debug bool) *zap.SugaredLogger {
	level := "info"
	if debug {
		level = "debug"
	}
	l, err := New(level, false)
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l
}

// ParseLevel maps a textual level to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Named returns a child logger when l is a zap logger, l itself otherwise.
func Named(l Logger, name string) Logger {
	if zl, ok := l.(*zap.SugaredLogger); ok {
		return zl.Named(name)
	}
	return l
}
