// Package logging provides structured logging for imapwatch sessions.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	tagKey     contextKey = "tag"
	phaseKey   contextKey = "phase"
	mailboxKey contextKey = "mailbox"
	seqnumKey  contextKey = "seqnum"
)

// Logger wraps slog with imapwatch-specific context extraction.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output destination (stdout, stderr, or file path).
	Output string
	// AddSource adds source code location to log entries.
	AddSource bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// Default returns a default logger.
func Default() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// WithSession returns a new context carrying the session name.
func WithSession(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, sessionKey, name)
}

// WithTag returns a new context carrying the command tag.
func WithTag(ctx context.Context, tag int) context.Context {
	return context.WithValue(ctx, tagKey, tag)
}

// WithPhase returns a new context carrying the connection phase.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// WithMailbox returns a new context carrying the selected mailbox name.
func WithMailbox(ctx context.Context, mailbox string) context.Context {
	return context.WithValue(ctx, mailboxKey, mailbox)
}

// WithSeqNum returns a new context carrying a message sequence number.
func WithSeqNum(ctx context.Context, seq int) context.Context {
	return context.WithValue(ctx, seqnumKey, seq)
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := ctx.Value(sessionKey); v != nil {
		attrs = append(attrs, slog.String("session", v.(string)))
	}
	if v := ctx.Value(tagKey); v != nil {
		attrs = append(attrs, slog.Int("tag", v.(int)))
	}
	if v := ctx.Value(phaseKey); v != nil {
		attrs = append(attrs, slog.String("phase", v.(string)))
	}
	if v := ctx.Value(mailboxKey); v != nil {
		attrs = append(attrs, slog.String("mailbox", v.(string)))
	}
	if v := ctx.Value(seqnumKey); v != nil {
		attrs = append(attrs, slog.Int("seqnum", v.(int)))
	}
	return attrs
}

func (l *Logger) argsWithContext(ctx context.Context, args []any) []any {
	attrs := extractContextAttrs(ctx)
	out := make([]any, 0, len(attrs)*2+len(args))
	for _, a := range attrs {
		out = append(out, a.Key, a.Value.Any())
	}
	return append(out, args...)
}

// InfoContext logs an info message with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.argsWithContext(ctx, args)...)
}

// WarnContext logs a warning message with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.argsWithContext(ctx, args)...)
}

// ErrorContext logs an error message with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	full := l.argsWithContext(ctx, args)
	if err != nil {
		full = append([]any{"error", err.Error()}, full...)
	}
	l.Logger.ErrorContext(ctx, msg, full...)
}

// DebugContext logs a debug message with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.argsWithContext(ctx, args)...)
}

// WithFields returns a logger with additional static fields attached.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
