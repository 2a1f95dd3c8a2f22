package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"duskhole/pkg/config"
)

// Logger wraps slog.Logger with duskhole-specific convenience helpers.
type Logger struct {
	*slog.Logger
	cfg *config.LoggingConfig
}

// New creates a new logger from configuration. When log_path is set, logs go
// to that file with a JSON handler; otherwise they go to stdout with a text
// handler, matching what an interactive terminal expects.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var output io.Writer = os.Stdout
	useJSON := false

	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		output = f
		useJSON = true
	}

	level := parseLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)

	return &Logger{
		Logger: logger,
		cfg:    cfg,
	}, nil
}

// NewDefault creates a logger with sensible defaults (info level, text format, stdout).
func NewDefault() *Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{
		Logger: slog.New(handler),
		cfg: &config.LoggingConfig{
			LogLevel: "info",
		},
	}
}

// WithContext returns a copy of the logger. ctx is not read; no values are
// taken from it.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger.With(),
		cfg:    l.cfg,
	}
}

// WithFields creates a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.Logger.With(args...),
		cfg:    l.cfg,
	}
}

// WithField creates a new logger with an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		cfg:    l.cfg,
	}
}

// LogBlocked reports whether blocked-query events should be logged, per
// logging.log_blocked.
func (l *Logger) LogBlocked() bool {
	return l.cfg != nil && l.cfg.LogBlocked
}

// parseLevel converts a string level to slog.Level. "trace" has no slog
// equivalent and maps to debug.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Global logger instance
var global *Logger

func init() {
	global = NewDefault()
}

// SetGlobal sets the global logger.
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the global logger.
func Global() *Logger {
	return global
}

// Convenience functions that use the global logger

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	global.Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	global.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	global.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	global.Error(msg, args...)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	global.DebugContext(ctx, msg, args...)
}

// InfoContext logs an info message with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	global.InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	global.WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	global.ErrorContext(ctx, msg, args...)
}
