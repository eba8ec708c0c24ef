package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Names of the files written into a run root by AttachRunFiles
const (
	OutputLogFile = "output.log"
	ErrorLogFile  = "error.log"
)

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	sinks *sinks
	attrs []slog.Attr
}

// sinks is shared between a logger and all of its children.
type sinks struct {
	mu       sync.RWMutex
	level    slog.Level
	handlers []slog.Handler // terminal
	files    []fileSink
}

type fileSink struct {
	handler slog.Handler
	file    *os.File
}

// NewLogger creates a Logger writing text records to w at the given level.
// An unrecognised level falls back to ERROR, the quiet default of the CLI.
func NewLogger(w io.Writer, level string) *Logger {
	lvl := parseLevel(level)
	return &Logger{
		sinks: &sinks{
			level:    lvl,
			handlers: []slog.Handler{slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})},
		},
	}
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{sinks: &sinks{level: slog.LevelError}}
}

// LevelFromVerbosity maps the count of -v flags to a level name:
// none is ERROR, -v WARN, -vv INFO and -vvv or more DEBUG.
func LevelFromVerbosity(count int) string {
	switch {
	case count <= 0:
		return LevelError
	case count == 1:
		return LevelWarn
	case count == 2:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// AttachRunFiles opens output.log and error.log inside dir and mirrors records into them.
// dir must already exist.
func (l *Logger) AttachRunFiles(dir string) error {
	out, err := os.OpenFile(filepath.Join(dir, OutputLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	errFile, err := os.OpenFile(filepath.Join(dir, ErrorLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s := l.sinks
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files,
		fileSink{handler: slog.NewTextHandler(out, &slog.HandlerOptions{Level: s.level}), file: out},
		fileSink{handler: slog.NewTextHandler(errFile, &slog.HandlerOptions{Level: slog.LevelError}), file: errFile},
	)
	return nil
}

// Close flushes and closes any attached run files. The terminal sink stays usable.
func (l *Logger) Close() error {
	s := l.sinks
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, fs := range s.files {
		if err := fs.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync log file: %w", err))
		}
		if err := fs.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
		}
	}
	s.files = nil
	return errors.Join(errs...)
}

// WithStage returns a child logger tagged with a pipeline stage name.
func (l *Logger) WithStage(stage string) *Logger {
	return l.withAttr(slog.String("stage", stage))
}

// WithChannel returns a child logger tagged with a microscope channel.
func (l *Logger) WithChannel(channel string) *Logger {
	return l.withAttr(slog.String("channel", channel))
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr
	return &Logger{sinks: l.sinks, attrs: newAttrs}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	s := l.sinks
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	emit := func(h slog.Handler) {
		if !h.Enabled(ctx, level) {
			return
		}
		allArgs := make([]any, 0, len(l.attrs)+len(args))
		for _, attr := range l.attrs {
			allArgs = append(allArgs, attr)
		}
		allArgs = append(allArgs, args...)
		slog.New(h).Log(ctx, level, msg, allArgs...)
	}
	for _, h := range s.handlers {
		emit(h)
	}
	for _, fs := range s.files {
		emit(fs.handler)
	}
}
