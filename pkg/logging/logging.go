// Package logging provides a simple leveled logging interface and a
// structured implementation backed by log/slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Logger is the interface for structured logging with levels.
// Implementations should format messages consistently and respect the
// configured level. Callers pass printf-style format strings; structured
// fields belong in the format string's args, not appended ad hoc.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	// With returns a Logger that attaches the given key/value pairs to
	// every subsequent message, without mutating the receiver.
	With(args ...interface{}) Logger
}

// Level represents the logging level.
type Level int

const (
	LevelError Level = 0
	LevelWarn  Level = 1
	LevelInfo  Level = 2
	LevelDebug Level = 3
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a Level. Defaults to LevelInfo for an
// unrecognized value.
func ParseLevel(levelStr string) Level {
	switch levelStr {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Format selects the slog handler's output shape.
type Format int

const (
	FormatConsole Format = iota
	FormatJSON
)

// ParseFormat maps a format name to a Format. Defaults to FormatConsole.
func ParseFormat(formatStr string) Format {
	if formatStr == "json" {
		return FormatJSON
	}
	return FormatConsole
}

// SlogLogger implements Logger on top of log/slog, using tint for
// colorized level-aware console output and slog's own JSON handler for
// machine-readable output.
type SlogLogger struct {
	logger *slog.Logger
	level  Level
}

// New creates a SlogLogger writing to stderr at the given level and format.
func New(levelStr string, format Format) *SlogLogger {
	level := ParseLevel(levelStr)
	return newWithHandler(level, format, os.Stderr)
}

// NewWithLevel creates a SlogLogger with the specified level constant,
// writing to stderr.
func NewWithLevel(level Level) *SlogLogger {
	return newWithHandler(level, FormatConsole, os.Stderr)
}

// NewWithWriter creates a SlogLogger writing to an arbitrary io.Writer.
// Primarily useful for tests that want to assert on log output.
func NewWithWriter(levelStr string, format Format, w io.Writer) *SlogLogger {
	return newWithHandler(ParseLevel(levelStr), format, w)
}

func newWithHandler(level Level, format Format, w io.Writer) *SlogLogger {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	default:
		handler = tint.NewHandler(w, &tint.Options{Level: level.slogLevel()})
	}
	return &SlogLogger{logger: slog.New(handler), level: level}
}

// SetLevel changes the logger's level at runtime.
func (l *SlogLogger) SetLevel(levelStr string) {
	l.level = ParseLevel(levelStr)
}

func (l *SlogLogger) Error(format string, args ...interface{}) {
	if l.level >= LevelError {
		l.logger.Error(formatMessage(format, args...))
	}
}

func (l *SlogLogger) Warn(format string, args ...interface{}) {
	if l.level >= LevelWarn {
		l.logger.Warn(formatMessage(format, args...))
	}
}

func (l *SlogLogger) Info(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.logger.Info(formatMessage(format, args...))
	}
}

func (l *SlogLogger) Debug(format string, args ...interface{}) {
	if l.level >= LevelDebug {
		l.logger.DebugContext(context.Background(), formatMessage(format, args...))
	}
}

// With returns a Logger carrying the given slog attributes on every
// subsequent message (e.g. logger.With("feed_id", 42, "job_id", 7)).
func (l *SlogLogger) With(args ...interface{}) Logger {
	return &SlogLogger{logger: l.logger.With(args...), level: l.level}
}

func formatMessage(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
