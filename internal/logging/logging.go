// Package logging provides application-wide structured logging.
package logging

import (
	"context"
	"io"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskboard/internal/reqctx"
)

var sensitiveKey = regexp.MustCompile(`(?i)password|token|authorization`)

// Init initializes the global logger to emit one JSON record per event.
func Init(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// SetOutput redirects the global logger, used by tests to capture records.
func SetOutput(w io.Writer) {
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Ctx returns the global logger tagged with the active request context.
// Outside a request it is the plain global logger.
func Ctx(ctx context.Context) zerolog.Logger {
	store := reqctx.From(ctx)
	if store == nil {
		return log.Logger
	}
	logCtx := log.Logger.With().Str("correlationId", store.CorrelationID)
	if store.TestID != "" {
		logCtx = logCtx.Str("testId", store.TestID)
	}
	if store.UserID != 0 {
		logCtx = logCtx.Int64("userId", store.UserID)
	}
	return logCtx.Logger()
}

// Redact replaces values of credential-bearing keys so they never reach a
// log record.
func Redact(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		if sensitiveKey.MatchString(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = value
	}
	return out
}
