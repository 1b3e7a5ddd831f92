package logger

import (
	"log/slog"
	"strings"
	"time"
)

// Field helpers for structured logging.
var (
	String  = slog.String
	Int     = slog.Int
	Float64 = slog.Float64
	Bool    = slog.Bool
	Any     = slog.Any

	Duration = func(key string, d time.Duration) slog.Attr {
		return slog.Any(key, d)
	}

	ErrorField = func(err error) slog.Attr {
		if err == nil {
			return slog.String("error", "<nil>")
		}
		return slog.String("error", err.Error())
	}

	Provider = func(name string) slog.Attr {
		return slog.String("provider", name)
	}

	Candidate = func(index int) slog.Attr {
		return slog.Int("candidate", index)
	}

	Reason = func(reason string) slog.Attr {
		return slog.String("reason", reason)
	}
)

// Sanitization settings installed by Reload. Read-mostly; Reload happens at
// init and in tests only.
var (
	maxSQLLength   int
	redactLiterals bool
)

func setSanitization(config Config) {
	maxSQLLength = config.MaxSQLLength
	redactLiterals = config.RedactLiterals
}

// SQL renders a query for logging: whitespace runs collapse to one space,
// string literals are redacted when configured, and the result is bounded
// by MaxSQLLength.
func SQL(query string) slog.Attr {
	return slog.String("sql", sanitizeSQL(query))
}

func sanitizeSQL(query string) string {
	s := strings.Join(strings.Fields(query), " ")
	if redactLiterals {
		s = redactStringLiterals(s)
	}
	if maxSQLLength > 0 && len(s) > maxSQLLength {
		s = s[:maxSQLLength] + "...[truncated]"
	}
	return s
}

// redactStringLiterals replaces every single-quoted literal with ?,
// honoring doubled-quote escapes.
func redactStringLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			i++
			continue
		}
		// Scan to the closing quote; '' inside a literal is an escape.
		j := i + 1
		for j < len(s) {
			if s[j] == '\'' {
				if j+1 < len(s) && s[j+1] == '\'' {
					j += 2
					continue
				}
				j++
				break
			}
			j++
		}
		b.WriteByte('?')
		i = j
	}
	return b.String()
}
