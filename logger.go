package ctree

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with consistent field names for tree and broad
// phase events.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// A nil handler logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger writing human-readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger writing JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithCategory tags records with a tree category.
func (l *Logger) WithCategory(c TreeCategory) *Logger {
	return l.With("category", c.String())
}

// LogOptimize logs one tree optimization pass.
func (l *Logger) LogOptimize(ctx context.Context, c TreeCategory, mode TreeOptimizationMode, moved, total int, async bool) {
	l.DebugContext(ctx, "tree optimize",
		"category", c.String(),
		"mode", mode.String(),
		"moved", moved,
		"total", total,
		"async", async,
	)
}

// LogTreeRebuild logs a full or partial rebuild.
func (l *Logger) LogTreeRebuild(ctx context.Context, kind string, leaves int, dur time.Duration) {
	l.DebugContext(ctx, "tree rebuild",
		"kind", kind,
		"leaves", leaves,
		"duration", dur,
	)
}

// LogAABBUpdate logs the enlarged-AABB update of one step.
func (l *Logger) LogAABBUpdate(ctx context.Context, enlarged int, dur time.Duration) {
	l.DebugContext(ctx, "aabb update",
		"enlarged", enlarged,
		"duration", dur,
	)
}

// LogBroadPhase logs pair collection for one step.
func (l *Logger) LogBroadPhase(ctx context.Context, moved, pairs int, dur time.Duration) {
	l.DebugContext(ctx, "broad phase",
		"moved", moved,
		"pairs", pairs,
		"duration", dur,
	)
}

// LogError logs a failed operation.
func (l *Logger) LogError(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	l.ErrorContext(ctx, op+" failed", "error", err)
}
