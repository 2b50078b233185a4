package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// slog has no trace level; use one step below Debug.
const levelTrace = slog.Level(-8)

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newConsoleHandler writes text without timestamps; journald and cron add their own.
func newConsoleHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: rewriteAttr(tz, false)})
}

func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: rewriteAttr(tz, true)})
}

func rewriteAttr(tz *time.Location, withTime bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if !withTime {
				return slog.Attr{}
			}
			return slog.Time(a.Key, a.Value.Time().In(tz))
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= levelTrace {
				return slog.String(a.Key, "TRACE")
			}
		}
		return a
	}
}

// fanOut combines handlers, falling back to def when there are none.
func fanOut(handlers []slog.Handler, def func() slog.Handler) slog.Handler {
	switch len(handlers) {
	case 0:
		return def()
	case 1:
		return handlers[0]
	default:
		return teeHandler(handlers)
	}
}

// teeHandler writes each record to every member enabled for its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes records by value
func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
