package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// IANA names must resolve on minimal hosts such as the NAS image.
	_ "time/tzdata"
)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process logger. Called once after config load.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the process logger, creating an info-level stderr logger
// when SetGlobal has not been called yet.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			config:   &LoggingConfig{DefaultLevel: DefaultLogLevel},
			timezone: time.Local,
			handler:  newConsoleHandler(os.Stderr, slog.LevelInfo, time.Local),
		}
	}
	return global
}

type traceIDKey struct{}

// WithTraceID tags ctx so that loggers derived with WithContext emit trace_id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID set by WithTraceID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// CentralLogger owns the output handlers and hands out module loggers.
type CentralLogger struct {
	config   *LoggingConfig
	timezone *time.Location
	handler  slog.Handler
	levels   map[string]slog.Level

	mu      sync.Mutex
	logFile *os.File
}

// NewCentralLogger opens the configured outputs.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{
		config:   cfg,
		timezone: tz,
		levels:   make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, lvl := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(lvl)
	}

	var handlers []slog.Handler
	if c := cfg.Console; c != nil && c.Enabled {
		if c.JSON {
			handlers = append(handlers, newJSONHandler(os.Stderr, parseLogLevel(c.Level), tz))
		} else {
			handlers = append(handlers, newConsoleHandler(os.Stderr, parseLogLevel(c.Level), tz))
		}
	}
	if f := cfg.FileOutput; f != nil && f.Enabled {
		file, err := openLogFile(f.Path)
		if err != nil {
			return nil, err
		}
		cl.logFile = file
		handlers = append(handlers, newJSONHandler(file, parseLogLevel(f.Level), tz))
	}
	cl.handler = fanOut(handlers, func() slog.Handler {
		return newConsoleHandler(os.Stderr, parseLogLevel(cfg.DefaultLevel), tz)
	})

	return cl, nil
}

// Module returns a logger for name, honouring any per-module level.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	level, ok := cl.levels[name]
	if !ok {
		level = parseLogLevel(cl.config.DefaultLevel)
	}
	return &moduleLogger{
		module:   name,
		logger:   slog.New(cl.handler),
		level:    level,
		timezone: cl.timezone,
	}
}

// Flush syncs the log file, if one is open.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.logFile == nil {
		return nil
	}
	return cl.logFile.Sync()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.logFile == nil {
		return nil
	}
	err := errors.Join(cl.logFile.Sync(), cl.logFile.Close())
	cl.logFile = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
