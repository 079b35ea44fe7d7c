package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the logging interface consumed by the engine, sessions, and
// adapters. Arguments follow the slog key/value convention.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a logger with the given attributes attached to every
	// record.
	With(args ...any) Logger
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a text logger writing to w at the given level.
// If w is nil, os.Stderr is used.
func NewSlogLogger(w io.Writer, level slog.Level) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

// WrapSlog wraps an existing *slog.Logger.
func WrapSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *SlogLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// With returns a logger with the given attributes attached.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// NopLogger discards all records.
type NopLogger struct{}

// NewNop returns a logger that discards everything.
func NewNop() NopLogger { return NopLogger{} }

// Debug discards the record.
func (NopLogger) Debug(string, ...any) {}

// Info discards the record.
func (NopLogger) Info(string, ...any) {}

// Warn discards the record.
func (NopLogger) Warn(string, ...any) {}

// Error discards the record.
func (NopLogger) Error(string, ...any) {}

// With returns the logger unchanged.
func (l NopLogger) With(...any) Logger { return l }
