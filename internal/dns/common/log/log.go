// Package log provides the dnsproxy logging interface backed by zap.
// Components depend only on the Logger interface; the global instance is
// configured once at startup and never mutated afterwards.
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled, structured logging contract used across dnsproxy.
// Fields carry per-event context (client address, query name, elapsed time).
type Logger interface {
	Debug(fields map[string]any, msg string)
	Info(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

var global Logger = newZapLogger(false, zapcore.InfoLevel)

// Configure replaces the global logger based on environment and level.
// env "prod" selects the JSON production encoder; anything else selects the
// colorized development encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

// SetLogger swaps the global logger. Intended for tests.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger.
func GetLogger() Logger {
	return global
}

// Package-level helpers that delegate to the global logger.

func Debug(fields map[string]any, msg string) { global.Debug(fields, msg) }
func Info(fields map[string]any, msg string)  { global.Info(fields, msg) }
func Warn(fields map[string]any, msg string)  { global.Warn(fields, msg) }
func Error(fields map[string]any, msg string) { global.Error(fields, msg) }
func Fatal(fields map[string]any, msg string) { global.Fatal(fields, msg) }

// zapLogger adapts *zap.Logger to the Logger interface.
type zapLogger struct {
	z *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"

	z, _ := cfg.Build(zap.AddCallerSkip(1))
	return &zapLogger{z: z}
}

func (l *zapLogger) Debug(fields map[string]any, msg string) { l.z.Debug(msg, toZap(fields)...) }
func (l *zapLogger) Info(fields map[string]any, msg string)  { l.z.Info(msg, toZap(fields)...) }
func (l *zapLogger) Warn(fields map[string]any, msg string)  { l.z.Warn(msg, toZap(fields)...) }
func (l *zapLogger) Error(fields map[string]any, msg string) { l.z.Error(msg, toZap(fields)...) }
func (l *zapLogger) Fatal(fields map[string]any, msg string) { l.z.Fatal(msg, toZap(fields)...) }

func toZap(fields map[string]any) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

// noopLogger discards everything. Returned by NewNoopLogger for tests and
// for components that were constructed without a logger.
type noopLogger struct{}

func (noopLogger) Debug(map[string]any, string) {}
func (noopLogger) Info(map[string]any, string)  {}
func (noopLogger) Warn(map[string]any, string)  {}
func (noopLogger) Error(map[string]any, string) {}
func (noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that drops all messages.
func NewNoopLogger() Logger {
	return noopLogger{}
}
