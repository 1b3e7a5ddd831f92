package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
)

// Config holds the logger configuration.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool

	// MaxSQLLength bounds SQL text rendered by the SQL attribute; longer
	// queries are truncated with a marker. Zero disables truncation.
	MaxSQLLength int

	// RedactLiterals replaces string literals in logged SQL with ?, for
	// deployments where query constants are sensitive.
	RedactLiterals bool

	Writer io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:        slog.LevelInfo,
		Format:       "json",
		MaxSQLLength: 500,
		Writer:       os.Stdout,
	}
}

// LoadConfig loads the logger configuration from environment variables.
func LoadConfig() Config {
	config := DefaultConfig()

	if levelStr := os.Getenv("HEIMDALL_LOG_LEVEL"); levelStr != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelStr)); err == nil {
			config.Level = level
		}
	}
	if format := os.Getenv("HEIMDALL_LOG_FORMAT"); format == "text" || format == "json" {
		config.Format = format
	}
	if v := os.Getenv("HEIMDALL_LOG_ADD_SOURCE"); v != "" {
		if addSource, err := strconv.ParseBool(v); err == nil {
			config.AddSource = addSource
		}
	}
	if v := os.Getenv("HEIMDALL_LOG_MAX_SQL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.MaxSQLLength = n
		}
	}
	if v := os.Getenv("HEIMDALL_LOG_REDACT_LITERALS"); v != "" {
		if redact, err := strconv.ParseBool(v); err == nil {
			config.RedactLiterals = redact
		}
	}

	return config
}

// New creates a logger with the given configuration. Records flow through
// the context handler so the *Context functions pick up request values.
func New(config Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	var handler slog.Handler
	switch config.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default: // json
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(contextHandler{inner: handler})
}
