// Package logger is the rewriter's structured logging layer on log/slog.
// A handler wrapper stamps every record with the optimization-request
// values carried by the context, and SQL text is sanitized (whitespace
// collapsed, literals optionally redacted, length bounded) before it
// reaches a sink, so query logs never leak unbounded or sensitive text.
package logger

import (
	"context"
	"log/slog"
)

// Logger is the global logger instance.
var Logger *slog.Logger

func init() {
	Reload(LoadConfig())
}

// Reload rebuilds the global logger and the SQL sanitization settings from
// the given configuration.
func Reload(config Config) {
	setSanitization(config)
	Logger = New(config)
}

// ctxKey keys the per-request values the handler extracts. The type is
// unexported so only the setters below can populate them.
type ctxKey int

const (
	requestIDKey ctxKey = iota
	queryIDKey
	providerKey
)

// WithRequestID tags the context with the optimization request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithQueryID tags the context with the fingerprint of the query being
// optimized.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey, id)
}

// WithProvider tags the context with the active LLM provider name.
func WithProvider(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, providerKey, name)
}

// contextHandler decorates a slog.Handler so that records logged through
// the *Context functions carry the request values without every call site
// having to thread them.
type contextHandler struct {
	inner slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id, ok := ctx.Value(queryIDKey).(string); ok {
		r.AddAttrs(slog.String("query_id", id))
	}
	if name, ok := ctx.Value(providerKey).(string); ok {
		r.AddAttrs(slog.String("provider", name))
	}
	return h.inner.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{inner: h.inner.WithGroup(name)}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// DebugContext logs a debug message stamped with the request context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger.DebugContext(ctx, msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// InfoContext logs an info message stamped with the request context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger.InfoContext(ctx, msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// WarnContext logs a warning message stamped with the request context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger.WarnContext(ctx, msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// ErrorContext logs an error message stamped with the request context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger.ErrorContext(ctx, msg, args...)
}
