// Package logging provides a minimal logging interface for the run/debug
// engine.
//
// The Logger interface covers the levels the engine and adapters use.
// Two implementations are provided: SlogLogger wrapping log/slog for
// structured output, and a no-op logger for tests and embedders that
// bring their own logging.
package logging
