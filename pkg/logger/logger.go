// Package logger provides component-scoped structured logging for maestro.
// Every log line carries a component tag so the dispatch pipeline can be
// traced end to end ("dispatch", "scorer", "api", "notify", ...).
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = mustDefault()
)

func mustDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// Setup reconfigures the global logger. level is one of debug/info/warn/error;
// json selects JSON encoding instead of console.
func Setup(level string, json bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if !json {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	base = l.Sugar()
	mu.Unlock()
	return nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func kv(component string, fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { get().Debugw(msg, "component", component) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	get().Debugw(msg, kv(component, fields)...)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { get().Infow(msg, "component", component) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	get().Infow(msg, kv(component, fields)...)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { get().Warnw(msg, "component", component) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	get().Warnw(msg, kv(component, fields)...)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { get().Errorw(msg, "component", component) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	get().Errorw(msg, kv(component, fields)...)
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() { _ = get().Sync() }
