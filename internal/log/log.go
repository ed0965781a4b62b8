// Package log holds the process-wide structured logger used by cproj.
//
// Every component logs through this package so that --verbose and
// --log-json affect all output consistently.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	logger *slog.Logger
	mu     sync.RWMutex
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// Level represents logging levels
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Options configures the logger
type Options struct {
	Level   Level
	JSON    bool
	Output  io.Writer
	Verbose bool
	Quiet   bool
}

// Configure replaces the global logger.
// Verbose wins over Quiet; Quiet raises the floor to errors only.
func Configure(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := opts.Level
	switch {
	case opts.Verbose:
		level = LevelDebug
	case opts.Quiet:
		level = LevelError
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	logger = slog.New(handler)
}

// Logger returns the global logger
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return Logger().With(slog.String("component", name))
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// DebugContext logs at debug level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().DebugContext(ctx, msg, args...)
}

// InfoContext logs at info level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

// WarnContext logs at warn level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().WarnContext(ctx, msg, args...)
}

// ErrorContext logs at error level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().ErrorContext(ctx, msg, args...)
}

// Err is a helper for logging errors
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Workspace tags a record with the workspace path.
func Workspace(path string) slog.Attr {
	return slog.String("workspace", path)
}

// Branch tags a record with a branch name.
func Branch(name string) slog.Attr {
	return slog.String("branch", name)
}

// Step tags a record with a transition step name.
func Step(name string) slog.Attr {
	return slog.String("step", name)
}

// Duration records elapsed time in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64("duration_ms", d.Milliseconds())
}

// State groups the lifecycle states of a transition.
func State(from, to string) slog.Attr {
	return slog.Group("state", slog.String("from", from), slog.String("to", to))
}
