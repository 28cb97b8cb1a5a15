package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel names a minimum level accepted from config files and flags.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Level maps the name to a slog level. Unknown names mean info.
func (l LogLevel) Level() slog.Level {
	switch LogLevel(strings.ToLower(string(l))) {
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

// Logger is the structured logger shared by every signal-bot component.
type Logger struct {
	*slog.Logger
}

// NewLogger writes plain lines to stderr and timestamped records to the log
// file under ~/.signal-bot/logs.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithConsoleWriter(level, os.Stderr)
}

// NewLoggerWithConsoleWriter is NewLogger with the console output redirected.
func NewLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) *Logger {
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	lvl := level.Level()
	handler := newMultiHandler(newPlainHandler(consoleWriter, lvl), newFileTextHandler(lvl))
	return &Logger{Logger: slog.New(handler)}
}

// NewConsoleLogger logs to w only. Libraries default to this so that merely
// importing them never creates files.
func NewConsoleLogger(level LogLevel, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{Logger: slog.New(newPlainHandler(w, level.Level()))}
}

// NewDiscardLogger drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// WithComponent tags every record with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithDispatch tags records belonging to one message dispatch.
func (l *Logger) WithDispatch(dispatchID string) *Logger {
	return &Logger{Logger: l.With("dispatch", dispatchID)}
}

// LogWithIntention logs msg with an intention attribute the console handler
// renders as an icon.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Default is the process-wide logger components fall back to.
var Default = NewConsoleLogger(LogLevelInfo, os.Stderr)

// SetGlobalLogger replaces Default. Component loggers created earlier keep
// their old handler.
func SetGlobalLogger(l *Logger) {
	if l != nil {
		Default = l
	}
}

// NewComponentLogger derives a component logger from Default.
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

// LogFilePath is where NewLogger appends file records.
func LogFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".signal-bot", "logs", "signal-bot.log")
}

func newFileTextHandler(level slog.Level) slog.Handler {
	path := LogFilePath()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.000"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}
