// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer BotLogger with contextual helpers
// (session, event, component) and domain specific helpers for pipeline stages,
// tools and model calls.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface used throughout the runtime.
// This allows users to provide their own logger implementation or use the
// built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// BotLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It should be cheap to copy via With* methods.
type BotLogger struct {
	logger     *slog.Logger
	level      LogLevel
	context    map[string]any
	component  string
	sessionKey string
	eventID    string
}

// LoggerConfig configures construction of a BotLogger.
type LoggerConfig struct {
	Level      LogLevel
	Format     string // json or text
	Output     io.Writer
	AddSource  bool
	Component  string
	SessionKey string
	EventID    string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a BotLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *BotLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &BotLogger{
		logger:     slog.New(handler),
		level:      cfg.Level,
		context:    map[string]any{},
		component:  cfg.Component,
		sessionKey: cfg.SessionKey,
		eventID:    cfg.EventID,
	}
}

func slogLevel(l LogLevel) slog.Level {
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

func (l *BotLogger) clone() *BotLogger {
	nl := *l
	nl.context = map[string]any{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute attached to every log entry.
func (l *BotLogger) WithContext(key string, value any) *BotLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (pipeline, agent, provider, etc.).
func (l *BotLogger) WithComponent(c string) *BotLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithSession attaches session and event identifiers.
func (l *BotLogger) WithSession(sessionKey, eventID string) *BotLogger {
	nl := l.clone()
	nl.sessionKey = sessionKey
	nl.eventID = eventID
	return nl
}

func (l *BotLogger) attrs(extra ...any) []any {
	args := make([]any, 0, len(l.context)*2+len(extra)+6)
	if l.component != "" {
		args = append(args, "component", l.component)
	}
	if l.sessionKey != "" {
		args = append(args, "session_key", l.sessionKey)
	}
	if l.eventID != "" {
		args = append(args, "event_id", l.eventID)
	}
	for k, v := range l.context {
		args = append(args, k, v)
	}
	return append(args, extra...)
}

// Debug logs at debug level.
func (l *BotLogger) Debug(msg string, args ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debug(msg, l.attrs(args...)...)
	}
}

// Info logs at info level.
func (l *BotLogger) Info(msg string, args ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Info(msg, l.attrs(args...)...)
	}
}

// Warn logs at warn level.
func (l *BotLogger) Warn(msg string, args ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warn(msg, l.attrs(args...)...)
	}
}

// Error logs at error level.
func (l *BotLogger) Error(msg string, args ...any) {
	if l.level <= LogLevelError {
		l.logger.Error(msg, l.attrs(args...)...)
	}
}

// LogStage records the outcome of one pipeline stage execution.
func (l *BotLogger) LogStage(stage string, dur time.Duration, halted bool, err error) {
	args := l.attrs("stage", stage, "duration_ms", dur.Milliseconds(), "halted", halted)
	if err != nil {
		args = append(args, "error", err.Error())
		l.logger.Log(context.Background(), slog.LevelError, "Stage execution failed", args...)
		return
	}
	l.logger.Log(context.Background(), slog.LevelDebug, "Stage execution completed", args...)
}

// LogToolCall records execution details for a tool invocation.
func (l *BotLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := l.attrs("tool_name", tool, "duration_ms", dur.Milliseconds(), "success", success)
	level := slog.LevelInfo
	msg := "Tool execution completed"
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		level = slog.LevelError
		msg = "Tool execution failed"
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// LogModelCall records chat provider latency, token usage and success.
func (l *BotLogger) LogModelCall(model string, tokens int, dur time.Duration, err error) {
	args := l.attrs("model", model, "token_count", tokens, "duration_ms", dur.Milliseconds())
	level := slog.LevelInfo
	msg := "Model call completed"
	if err != nil {
		args = append(args, "error", err.Error())
		level = slog.LevelError
		msg = "Model call failed"
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
