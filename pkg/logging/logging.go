// Package logging provides the JSON-line structured logger shared by every
// service, following the same shape as the teacher's pkg/middleware request
// logger: stdlib log.Logger, a request/correlation ID pulled from context,
// and a JSON "level" field bucketed by severity rather than a full logging
// framework (the teacher relies on the Encore platform's own log capture
// and never pulls in zerolog/zap, so neither does this).
package logging

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// Logger writes structured JSON lines to an underlying std logger.
type Logger struct {
	out  *log.Logger
	name string
}

// New creates a Logger for the given component name, writing to stderr.
func New(component string) *Logger {
	return &Logger{out: log.New(os.Stderr, "", 0), name: component}
}

// WithRequestID attaches a correlation ID to the context for downstream logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the correlation ID, if any.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// NewRequestID mints a correlation ID for a context that doesn't already
// carry one, the same uuid.New().String() call the teacher uses for job
// and audit-entry IDs.
func NewRequestID() string {
	return uuid.New().String()
}

// EnsureRequestID returns ctx unchanged if it already carries a request
// ID, or attaches a freshly minted one otherwise.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, NewRequestID())
}

func (l *Logger) line(level string, ctx context.Context, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"level":       level,
		"component":   l.name,
		"message":     msg,
		"request_id":  RequestID(ctx),
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("[%s] %s: failed to marshal log fields: %v", level, msg, err)
		return
	}
	l.out.Println(string(data))
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.line("INFO", ctx, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.line("WARN", ctx, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.line("ERROR", ctx, msg, fields)
}
