// Package observability provides structured logging helpers for linegpt.
//
// It wraps log/slog with trace ID propagation and LINE identifier masking so
// that every log line emitted while handling an event carries the trace
// context without leaking raw user IDs.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/linegpt/common/redact"
	"github.com/bdobrica/linegpt/common/trace"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps "debug", "warn" and "error" to their slog levels; anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

// WithEvent returns a trace-scoped logger annotated with the conversation and
// the (masked) author of the event being handled.
func WithEvent(ctx context.Context, conversationID, userID string) *slog.Logger {
	logger := WithTrace(ctx)
	if conversationID != "" {
		logger = logger.With("conversation_id", redact.MaskUserID(conversationID))
	}
	if userID != "" {
		logger = logger.With("user_id", redact.MaskUserID(userID))
	}
	return logger
}

// RedactSecrets replaces known-sensitive values in a log message with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(redact.UserIDs(msg), sensitiveValues...)
}
