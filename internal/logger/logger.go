// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Every package obtains a module-scoped logger from the process-wide CentralLogger:
//
//	func GetLogger() logger.Logger {
//	    return logger.Global().Module("publish")
//	}
//
//	log := GetLogger()
//	log.Info("Batch published",
//	    logger.String("batch_id", id),
//	    logger.Int("assets", n))
//
// Sub-modules are joined with a dot ("storage.s3"). A trace ID placed on the
// context with WithTraceID is emitted as trace_id by loggers obtained through
// WithContext, which lets all log lines of one pipeline run be correlated.
//
// Console output is human-readable text by default; file output is JSON.
// Fields whose keys look like credentials are redacted before they reach a handler.
package logger

import (
	"context"
	"time"
)

// LogLevel names a severity in configuration.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a key/value pair attached to a log record.
type Field struct {
	Key   string
	Value any
}

// Logger is implemented by module loggers.
type Logger interface {
	Module(name string) Logger
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)

	Flush() error
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }

// Float64 values are rounded to three decimals on output.
func Float64(key string, value float64) Field { return Field{key, value} }

// Duration values are rendered like "1.5s".
func Duration(key string, value time.Duration) Field { return Field{key, value} }

// Error always uses the key "error".
func Error(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Any is for values without a typed constructor.
func Any(key string, value any) Field { return Field{key, value} }
