// Package correlation tags every request-scoped context with a short ID so
// that log lines emitted while handling one websocket message or HTTP request
// can be grouped together.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// attrKey is the log attribute name carrying the correlation ID.
const attrKey = "correlation_id"

// idLen keeps IDs short enough to scan in log output. Eight hex chars give
// four billion values, plenty for correlating within one process lifetime.
const idLen = 8

type ctxKey struct{}

// NewID returns a fresh correlation ID, the leading hex chars of a random
// UUID.
func NewID() string {
	return uuid.NewString()[:idLen]
}

// WithID stores id on the context for later extraction by ID and the log
// handler.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID reads the correlation ID off the context. The second return is false
// when the context carries none.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// NewHandler decorates next so that records logged with a correlated context
// gain a correlation_id attribute. Records without one pass through
// untouched.
func NewHandler(next slog.Handler) slog.Handler {
	return handler{next: next}
}

type handler struct {
	next slog.Handler
}

func (h handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h handler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := ID(ctx); ok {
		record.AddAttrs(slog.String(attrKey, id))
	}
	if err := h.next.Handle(ctx, record); err != nil {
		return fmt.Errorf("handling correlated log record: %w", err)
	}
	return nil
}

func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{next: h.next.WithAttrs(attrs)}
}

func (h handler) WithGroup(name string) slog.Handler {
	return handler{next: h.next.WithGroup(name)}
}
