package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel is the textual log level used in settings and flags
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger wraps slog with the component/session/turn helpers used across klein-dm
type Logger struct {
	*slog.Logger
}

// ParseLevel maps a settings string onto a LogLevel, falling back to info
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
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

// NewLogger creates a logger writing plain lines to stderr and text lines to the log file
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithConsoleWriter(level, os.Stderr)
}

// NewLoggerWithConsoleWriter builds a logger whose console half writes to w.
// The file half always goes to ~/.klein-dm/logs/klein-dm.log.
func NewLoggerWithConsoleWriter(level LogLevel, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := level.slogLevel()
	handler := newMultiHandler(newPlainHandler(w, lvl), newFileTextHandler(lvl))
	return &Logger{Logger: slog.New(handler)}
}

// NewConsoleOnlyLogger skips the log file; used by tests and the MCP stdio server
func NewConsoleOnlyLogger(level LogLevel, w io.Writer) *Logger {
	return &Logger{Logger: slog.New(newPlainHandler(w, level.slogLevel()))}
}

// NewDefaultLogger creates an info-level logger
func NewDefaultLogger() *Logger {
	return NewLogger(LogLevelInfo)
}

// WithComponent tags every line with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithSession tags every line with a game session id
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.With("session", sessionID)}
}

// WithTurn tags every line with the active turn id
func (l *Logger) WithTurn(turnID string) *Logger {
	return &Logger{Logger: l.With("turn", turnID)}
}

// LogWithIntention logs at level with the structured key "intention";
// the console handler turns it into an icon.
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

// Warnings and errors rely on the level for emphasis
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) {
	l.Error(msg, args...)
}

// Default is the process-wide root logger
var Default = NewDefaultLogger()

// SetGlobalLogLevel replaces Default; component loggers created afterwards pick it up
func SetGlobalLogLevel(level LogLevel) {
	Default = NewLogger(level)
}

// SetGlobalLoggerWithConsoleWriter replaces Default with one writing console output to w
func SetGlobalLoggerWithConsoleWriter(level LogLevel, w io.Writer) {
	Default = NewLoggerWithConsoleWriter(level, w)
}

// NewComponentLogger derives a component logger from Default
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

func newFileTextHandler(level slog.Level) slog.Handler {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".klein-dm", "logs")
	_ = os.MkdirAll(dir, 0o755)

	f, err := os.OpenFile(filepath.Join(dir, "klein-dm.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("2006-01-02 15:04:05"))
			}
			return a
		},
	})
}
